package heartbeat

import (
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/proxyregistry"
	"github.com/fulcrum-mc/fulcrum-core/internal/regstate"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
)

// ProxyTarget adapts *proxyregistry.Registry to Target, the narrow
// interface the monitor needs instead of a direct back-reference (spec.md
// Design Notes §9).
type ProxyTarget struct {
	Registry *proxyregistry.Registry
}

func (t ProxyTarget) ListActive() []ActiveNode {
	proxies := t.Registry.ListActive()
	out := make([]ActiveNode, 0, len(proxies))
	for _, p := range proxies {
		out = append(out, ActiveNode{ID: p.ID, RegisteredAt: p.RegisteredAt, LastHeartbeat: p.LastHeartbeat})
	}
	return out
}

func (t ProxyTarget) Heartbeat(id string) bool { return t.Registry.Heartbeat(id) }

func (t ProxyTarget) AdvanceRegistration(id, reason string) (bool, regstate.State, bool) {
	return t.Registry.AdvanceRegistration(id, reason)
}

func (t ProxyTarget) MarkUnavailable(id string) { t.Registry.MarkUnavailable(id) }

func (t ProxyTarget) SnapshotAndRemove(id string) (interface{}, bool) {
	return t.Registry.SnapshotAndRemove(id)
}

func (t ProxyTarget) Restore(snapshot interface{}) {
	if p, ok := snapshot.(*model.RegisteredProxy); ok {
		t.Registry.Restore(p)
	}
}

// ServerTarget adapts *serverregistry.Registry to Target.
type ServerTarget struct {
	Registry *serverregistry.Registry
}

func (t ServerTarget) ListActive() []ActiveNode {
	servers := t.Registry.ListActive()
	out := make([]ActiveNode, 0, len(servers))
	for _, s := range servers {
		out = append(out, ActiveNode{ID: s.ID, RegisteredAt: s.RegisteredAt, LastHeartbeat: s.LastHeartbeat})
	}
	return out
}

func (t ServerTarget) Heartbeat(id string) bool { return t.Registry.Heartbeat(id) }

func (t ServerTarget) AdvanceRegistration(id, reason string) (bool, regstate.State, bool) {
	return t.Registry.AdvanceRegistration(id, reason)
}

func (t ServerTarget) MarkUnavailable(id string) { t.Registry.MarkUnavailable(id) }

func (t ServerTarget) SnapshotAndRemove(id string) (interface{}, bool) {
	return t.Registry.SnapshotAndRemove(id)
}

func (t ServerTarget) Restore(snapshot interface{}) {
	if s, ok := snapshot.(*model.RegisteredServer); ok {
		t.Registry.RestoreServer(s)
	}
}
