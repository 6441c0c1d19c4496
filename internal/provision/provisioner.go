// Package provision implements on-demand slot provisioning, spec.md §4.8
// (C8): pick a backend advertising capacity for a family, send it a
// provision request, and dedupe concurrent provision attempts per family
// through a short-lived lock held in the persistent mirror.
package provision

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

// LockTTL bounds how long a per-family provision lock is held before it
// expires even without an explicit release, preventing a crashed provision
// attempt from wedging a family forever.
const LockTTL = 10 * time.Second

// ProvisionRequest is the payload sent to the chosen backend.
type ProvisionRequest struct {
	RequestID string
	FamilyID  string
	Metadata  map[string]string
}

func (m ProvisionRequest) MessageType() string { return "slot.provision.request" }
func (m ProvisionRequest) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		FamilyID string `valid:"required"`
	}{m.FamilyID})
}

// Result is the (serverId, slotId) pair assigned to a successful provision.
type Result struct {
	ServerID string
	SlotID   string
}

// Provisioner selects backends to grow capacity for a family on demand.
type Provisioner struct {
	servers *serverregistry.Registry
	bus     *bus.Bus
	mirror  *kvstore.Mirror
	log     *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]time.Time // family -> lock expiry
}

func New(servers *serverregistry.Registry, b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Provisioner {
	return &Provisioner{
		servers: servers,
		bus:     b,
		mirror:  mirror,
		log:     log.Named("provision"),
		locks:   make(map[string]time.Time),
	}
}

// AcquireProvisionLock attempts to take the per-family provision lock.
// Returns false if another provision attempt already holds it.
func (p *Provisioner) AcquireProvisionLock(family string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if until, held := p.locks[family]; held && time.Now().Before(until) {
		return false
	}
	until := time.Now().Add(LockTTL)
	p.locks[family] = until
	p.mirror.PutJSON(fmt.Sprintf("route:provision-lock:%s", family), until)
	return true
}

// ReleaseProvisionLock frees the per-family lock early (on success or
// definitive failure), rather than waiting out LockTTL.
func (p *Provisioner) ReleaseProvisionLock(family string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locks, family)
	p.mirror.Delete(fmt.Sprintf("route:provision-lock:%s", family))
}

// RequestProvision selects a backend advertising familyId below capacity
// and sends it a provision request, marking a new slot PROVISIONING.
// Returns ok=false if no eligible backend exists or the family's provision
// lock is already held.
func (p *Provisioner) RequestProvision(familyID string, metadata map[string]string) (Result, bool) {
	if !p.AcquireProvisionLock(familyID) {
		p.log.Debugw("provision already in flight for family", "family", familyID)
		return Result{}, false
	}

	server, ok := p.selectBackend(familyID)
	if !ok {
		p.ReleaseProvisionLock(familyID)
		return Result{}, false
	}

	slotID := fmt.Sprintf("%s:%s:provisioning-%d", familyID, server.ID, time.Now().UnixNano())
	p.servers.UpdateSlot(server.ID, serverregistry.SlotStatusUpdate{
		SlotID:     slotID,
		Status:     model.SlotProvisioning,
		MaxPlayers: 0,
		Metadata:   map[string]string{"family": familyID},
	})

	req := ProvisionRequest{RequestID: slotID, FamilyID: familyID, Metadata: metadata}
	p.bus.Send(server.ID, bus.ChanSlotFamilyAdvertisement+".provision", req)

	p.log.Infow("provision requested", "family", familyID, "serverId", server.ID, "slotId", slotID)
	return Result{ServerID: server.ID, SlotID: slotID}, true
}

// selectBackend picks a backend advertising capacity for familyID whose
// current slot count for the family is below its advertised capacity.
func (p *Provisioner) selectBackend(familyID string) (*model.RegisteredServer, bool) {
	var best *model.RegisteredServer
	bestHeadroom := -1
	for _, s := range p.servers.ListActive() {
		if s.Evacuating {
			continue
		}
		cap, advertises := s.FamilyCapacities[familyID]
		if !advertises || cap <= 0 {
			continue
		}
		used := 0
		for _, slot := range s.Slots {
			if slot.Family() == familyID {
				used++
			}
		}
		headroom := cap - used
		if headroom <= 0 {
			continue
		}
		if headroom > bestHeadroom {
			bestHeadroom = headroom
			best = s
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
