package network

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// NetworkConfigRequestMessage asks for the currently active network profile,
// spec.md §4.11, §6.1 registry.network.config.request.
type NetworkConfigRequestMessage struct {
	RequestID string
}

func (m NetworkConfigRequestMessage) MessageType() string {
	return "registry.network.config.request"
}
func (m NetworkConfigRequestMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
	}{m.RequestID})
}

// NetworkConfigUpdatedMessage is the profile snapshot, sent in response to a
// request and broadcast on any change, spec.md §4.11.
type NetworkConfigUpdatedMessage struct {
	RequestID    string
	ProfileID    string
	Tag          string
	ServerIP     string
	MOTD         []string
	ScoreTitle   string
	ScoreFooter  string
	Ranks        map[string]string
}

func (m NetworkConfigUpdatedMessage) MessageType() string {
	return "registry.network.config.updated"
}
func (m NetworkConfigUpdatedMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ProfileID string `valid:"required"`
	}{m.ProfileID})
}

// RankSyncMessage is broadcast whenever a player's rank assignment changes,
// spec.md §6.1 registry.rank.update.
type RankSyncMessage struct {
	PlayerID     string
	PrimaryRankID string
	RankIDs      []string
}

func (m RankSyncMessage) MessageType() string { return "registry.rank.update" }
func (m RankSyncMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		PlayerID string `valid:"required"`
	}{m.PlayerID})
}
