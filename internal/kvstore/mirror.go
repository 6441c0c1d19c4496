package kvstore

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mirror is the write-through helper every registry/coordinator component
// uses to keep the external KV in sync with in-memory state (spec.md §4.6).
// Write failures are logged and swallowed: the in-memory state stays
// authoritative for the running process, and reconciliation happens on the
// next restart (spec.md §7). Boot-time read failures are the caller's
// responsibility to treat as fatal, since the core cannot start with
// partial state.
type Mirror struct {
	adapter Adapter
	log     *zap.SugaredLogger
}

// NewMirror wraps adapter with the write-through/fatal-on-boot semantics.
func NewMirror(adapter Adapter, log *zap.SugaredLogger) *Mirror {
	return &Mirror{adapter: adapter, log: log.Named("kvmirror")}
}

// PutJSON marshals v and writes it under key. A failure is logged and
// otherwise ignored — callers never propagate it as a request failure.
func (m *Mirror) PutJSON(key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Errorw("failed to marshal mirror value", "key", key, "error", err)
		return
	}
	if err := m.adapter.Put(key, b); err != nil {
		m.log.Errorw("mirror write failed, continuing with in-memory state", "key", key, "error", err)
	}
}

// Delete removes key from the mirror, logging but ignoring failures.
func (m *Mirror) Delete(key string) {
	if err := m.adapter.Delete(key); err != nil {
		m.log.Errorw("mirror delete failed, continuing with in-memory state", "key", key, "error", err)
	}
}

// LoadJSON reads key into v. ok is false if the key is absent. Errors
// returned here are meant to be fatal at the call site (boot-time restore),
// per spec.md §7 "KV mirror failure on boot".
func (m *Mirror) LoadJSON(key string, v interface{}) (ok bool, err error) {
	b, found, err := m.adapter.Get(key)
	if err != nil {
		return false, errors.Wrapf(err, "kvmirror: read %s", key)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, errors.Wrapf(err, "kvmirror: decode %s", key)
	}
	return true, nil
}

// ScanInto decodes every value under prefix into a freshly allocated
// instance produced by newT, calling visit for each. Decode failures for
// one entry are fatal for the whole scan, consistent with "boot cannot
// start with partial state".
func (m *Mirror) ScanInto(prefix string, newT func() interface{}, visit func(key string, v interface{})) error {
	entries, err := m.adapter.Scan(prefix)
	if err != nil {
		return errors.Wrapf(err, "kvmirror: scan %s", prefix)
	}
	for k, b := range entries {
		v := newT()
		if err := json.Unmarshal(b, v); err != nil {
			return errors.Wrapf(err, "kvmirror: decode %s", k)
		}
		visit(k, v)
	}
	return nil
}
