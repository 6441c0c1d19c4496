package heartbeat

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// HeartbeatMessage is the periodic liveness ping shared by proxies and
// backend servers, spec.md §6.1 `heartbeat`.
type HeartbeatMessage struct {
	NodeID      string
	PlayerCount int
	TPS         float64
}

func (m HeartbeatMessage) MessageType() string { return "heartbeat" }
func (m HeartbeatMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		NodeID string `valid:"required"`
	}{m.NodeID})
}

// ReregRequestMessage is sent targeted at a node whose heartbeat arrived
// with no known registration and no dead snapshot to restore, asking it to
// register from scratch (spec.md §4.7, Edge Cases "Unknown proxy/server").
type ReregRequestMessage struct {
	NodeID string
}

func (m ReregRequestMessage) MessageType() string { return "registry.rereg.request" }
func (m ReregRequestMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		NodeID string `valid:"required"`
	}{m.NodeID})
}
