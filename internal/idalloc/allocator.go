// Package idalloc allocates contiguous fulcrum-<kind>-N identifiers and
// releases them after an optional grace window, per spec.md §4.2 (C2).
package idalloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinode/snowflake"
	"go.uber.org/zap"
)

// Kind names the identifier family: "proxy" or "server".
type Kind string

const (
	KindProxy  Kind = "proxy"
	KindServer Kind = "server"
)

// Format returns the canonical string form fulcrum-<kind>-<instance>.
func Format(kind Kind, instance int) string {
	return fmt.Sprintf("fulcrum-%s-%d", kind, instance)
}

// Allocator hands out the lowest free positive integer for a kind and
// tracks ids pending release so a reservation window can be honored before
// the slot becomes reusable. One Allocator instance is shared per kind.
type Allocator struct {
	kind Kind
	log  *zap.SugaredLogger
	snow *snowflake.Node

	mu       sync.Mutex
	active   map[int]bool
	reserved map[int]*time.Timer // ids released-but-pending (within the reservation window)
}

// snowflakeWorker distinguishes the two allocator kinds on the one process
// that constructs them, so their correlation handles never collide.
func snowflakeWorker(kind Kind) int64 {
	if kind == KindServer {
		return 1
	}
	return 0
}

// New constructs an Allocator for the given kind.
func New(kind Kind, log *zap.SugaredLogger) *Allocator {
	node, err := snowflake.NewNode(snowflakeWorker(kind))
	if err != nil {
		// Only fails on an out-of-range worker id, which snowflakeWorker
		// never produces.
		log.Fatalw("snowflake node init failed", "kind", kind, "error", err)
	}
	return &Allocator{
		kind:     kind,
		log:      log.Named("idalloc").With("kind", string(kind)),
		snow:     node,
		active:   make(map[int]bool),
		reserved: make(map[int]*time.Timer),
	}
}

// Correlate mints a process-unique handle distinguishing this allocator's
// current boot generation, for attaching to a restored id's log line when
// it's unclear whether a heartbeat belongs to the instance that minted the
// id or a later restart reusing the same instance number.
func (a *Allocator) Correlate() int64 {
	return a.snow.Generate().Int64()
}

// Allocate returns the lowest positive integer N such that fulcrum-<kind>-N
// is not currently held (active or reserved), and marks it active.
func (a *Allocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := 1; ; n++ {
		if a.active[n] {
			continue
		}
		if _, reserved := a.reserved[n]; reserved {
			continue
		}
		a.active[n] = true
		return Format(a.kind, n)
	}
}

// MarkActive records id as externally known-active (used when restoring
// state from the persistent mirror on boot, spec.md §4.6). An id that is
// already active is a fatal integrity bug; an id still in its reservation
// window is taken out of the reserved set and marked active.
func (a *Allocator) MarkActive(instance int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active[instance] {
		a.log.Fatalw("id collision on restore: already active", "instance", instance)
	}
	if t, reserved := a.reserved[instance]; reserved {
		t.Stop()
		delete(a.reserved, instance)
	}
	a.active[instance] = true
}

// Release frees instance. If forced, it is released immediately and may be
// reallocated right away. Otherwise it moves into the reserved set for
// window before becoming reusable, so a re-allocation can never collide
// with a recently-released id during its recycle window.
func (a *Allocator) Release(instance int, forced bool, window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active[instance] {
		// Already released or never allocated; nothing to do.
		return
	}
	delete(a.active, instance)

	if forced || window <= 0 {
		return
	}

	timer := time.AfterFunc(window, func() {
		a.mu.Lock()
		delete(a.reserved, instance)
		a.mu.Unlock()
	})
	a.reserved[instance] = timer
}

// ReleaseNow releases instance immediately, bypassing the reservation
// window. Used by graceful-removal paths (spec.md §4.4 removeImmediately).
func (a *Allocator) ReleaseNow(instance int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, instance)
	if t, ok := a.reserved[instance]; ok {
		t.Stop()
		delete(a.reserved, instance)
	}
}

// ParseInstance extracts the trailing instance number from a
// fulcrum-<kind>-<N> id, e.g. for reconciling the allocator against ids
// restored from the persistent mirror on boot (spec.md §4.6).
func ParseInstance(id string) (int, error) {
	var instance int
	var kind string
	if _, err := fmt.Sscanf(id, "fulcrum-%s", &kind); err != nil {
		return 0, err
	}
	for i := len(kind) - 1; i >= 0; i-- {
		if kind[i] == '-' {
			_, err := fmt.Sscanf(kind[i+1:], "%d", &instance)
			return instance, err
		}
	}
	return 0, fmt.Errorf("malformed id %q", id)
}

// Held reports whether instance is currently active or reserved.
func (a *Allocator) Held(instance int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[instance] {
		return true
	}
	_, reserved := a.reserved[instance]
	return reserved
}
