// Package model holds the core entities of spec.md §3, shared across the
// registry, heartbeat, provisioning and routing components. Each entity is
// owned by exactly one component; other components only read it through
// that component's lookup API (spec.md §3 "Ownership").
package model

import "time"

// NodeStatus is the liveness status the heartbeat monitor (C7) assigns to
// proxies and servers.
type NodeStatus int

const (
	StatusAvailable NodeStatus = iota
	StatusUnavailable
	StatusDead
)

func (s NodeStatus) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// SlotStatus is a logical slot's provisioning/occupancy state.
type SlotStatus int

const (
	SlotProvisioning SlotStatus = iota
	SlotAvailable
	SlotAllocated
	SlotFaulted
	SlotCooldown
)

func (s SlotStatus) String() string {
	switch s {
	case SlotProvisioning:
		return "PROVISIONING"
	case SlotAvailable:
		return "AVAILABLE"
	case SlotAllocated:
		return "ALLOCATED"
	case SlotFaulted:
		return "FAULTED"
	case SlotCooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

func ParseSlotStatus(s string) SlotStatus {
	switch s {
	case "AVAILABLE":
		return SlotAvailable
	case "ALLOCATED":
		return SlotAllocated
	case "FAULTED":
		return SlotFaulted
	case "COOLDOWN":
		return SlotCooldown
	default:
		return SlotProvisioning
	}
}

// LogicalSlot is a routable unit of capacity on a backend server.
type LogicalSlot struct {
	SlotID        string
	SlotSuffix    string
	ServerID      string
	Status        SlotStatus
	OnlinePlayers int
	MaxPlayers    int
	Metadata      map[string]string

	// PendingOccupancy counts in-flight reservations/routes not yet
	// acknowledged, so selection (§4.9.2) accounts for them without
	// double-booking. Conserved per spec.md Testable Property 5.
	PendingOccupancy int

	FirstSeen time.Time
}

// Family returns the required "family" metadata key, or "" if absent.
func (s *LogicalSlot) Family() string { return s.Metadata["family"] }

// Variants returns the comma-free list of advertised variants for the slot,
// stored as a single "variant" metadata key for the slot's primary variant
// plus any in "variants" (space separated) for multi-variant slots.
func (s *LogicalSlot) Variants() []string {
	variants := []string{}
	if v := s.Metadata["variant"]; v != "" {
		variants = append(variants, v)
	}
	if v := s.Metadata["variants"]; v != "" {
		for _, part := range splitSpace(v) {
			variants = append(variants, part)
		}
	}
	return variants
}

func splitSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// RemainingCapacity is MaxPlayers minus current online players and pending
// reservations, never negative.
func (s *LogicalSlot) RemainingCapacity() int {
	rem := s.MaxPlayers - s.OnlinePlayers - s.PendingOccupancy
	if rem < 0 {
		return 0
	}
	return rem
}

// FillRatio is the slot's occupancy fraction including pending reservations.
func (s *LogicalSlot) FillRatio() float64 {
	if s.MaxPlayers <= 0 {
		return 0
	}
	return float64(s.OnlinePlayers+s.PendingOccupancy) / float64(s.MaxPlayers)
}

// RegisteredServer is a backend game server and its logical slots.
type RegisteredServer struct {
	ID            string
	TempID        string
	ServerType    string
	Role          string
	Address       string
	Port          int
	MaxCapacity   int
	PlayerCount   int
	TPS           float64
	Status        NodeStatus
	LastHeartbeat time.Time
	RegisteredAt  time.Time

	Slots map[string]*LogicalSlot

	// FamilyCapacities/FamilyVariants come from slot.family.advertisement
	// and drive the slot provisioner (C8).
	FamilyCapacities map[string]int
	FamilyVariants   map[string][]string

	// Evacuating is set by the shutdown coordinator (C10) while the server
	// is draining; the routing coordinator (C9) excludes it from selection.
	Evacuating bool
}

// RegisteredProxy is an edge proxy tracked by the proxy registry (C4).
type RegisteredProxy struct {
	ID            string
	Address       string
	Port          int
	Status        NodeStatus
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// PlayerRequest is the inbound join request from a proxy.
type PlayerRequest struct {
	RequestID  string
	PlayerID   string
	PlayerName string
	ProxyID    string
	FamilyID   string
	Metadata   map[string]string
}

// PlayerRequestContext is the queued, mutable wrapper around a PlayerRequest
// tracked while it waits for or retries a route (spec.md §3).
type PlayerRequestContext struct {
	Request        PlayerRequest
	CreatedAt      time.Time
	LastEnqueuedAt time.Time
	Retries        int
	BlockedSlots   map[string]bool
	VariantID      string
	PreferredSlotID string
	IsRejoin       bool
}

// InFlightRoute tracks a dispatched-but-not-yet-acknowledged route.
type InFlightRoute struct {
	RequestID    string
	SlotID       string
	ServerID     string
	Context      *PlayerRequestContext
	DispatchedAt time.Time
}

// PartyReservationState is the lifecycle state of a PartyReservation.
type PartyReservationState int

const (
	PartyPending PartyReservationState = iota
	PartyAllocated
	PartyClaimed
	PartyExpired
)

// PartyReservation pre-allocates a slot for a group of players.
type PartyReservation struct {
	ReservationID   string
	PartyID         string
	FamilyID        string
	VariantID       string
	TargetServerID  string
	TargetSlotID    string
	ReservationToken string
	State           PartyReservationState
	Members         []string
	Claimed         map[string]bool
	CreatedAt       time.Time
}

// MatchRoster locks a slot to an explicit player allow-list.
type MatchRoster struct {
	MatchID        string
	SlotID         string
	ServerID       string
	AllowedPlayers map[string]bool
	CreatedAt      time.Time
	EndedAt        *time.Time
}

// ShutdownIntent is a multi-phase shutdown/evacuation plan.
type ShutdownIntent struct {
	ID                  string
	Services            []string
	CountdownSeconds    int
	BackendTransferHint string
	CreatedAt           time.Time
	Cancelled           bool
}

// ShutdownTicket authorizes one player's rewritten join request during an
// evacuation. One-shot: Consumed flips to true exactly once.
type ShutdownTicket struct {
	PlayerID string
	IntentID string
	ExpireAt time.Time
	Consumed bool
}

// NetworkProfile is the active, tagged network-wide configuration snapshot.
type NetworkProfile struct {
	ProfileID   string
	Tag         string
	ServerIP    string
	MOTD        []string
	Scoreboard  struct {
		Title  string
		Footer string
	}
	Ranks     map[string]string
	UpdatedAt time.Time
}
