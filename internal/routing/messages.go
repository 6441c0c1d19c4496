package routing

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// PlayerSlotRequest is the player.request bus payload, spec.md §6.1.
type PlayerSlotRequest struct {
	RequestID  string
	PlayerID   string
	PlayerName string
	ProxyID    string
	FamilyID   string
	Metadata   map[string]string
}

func (m PlayerSlotRequest) MessageType() string { return "player.request" }
func (m PlayerSlotRequest) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
		PlayerID  string `valid:"required"`
		ProxyID   string `valid:"required"`
		FamilyID  string `valid:"required"`
	}{m.RequestID, m.PlayerID, m.ProxyID, m.FamilyID})
}

// PlayerReservationRequest is sent core -> backend, spec.md §6.1.
type PlayerReservationRequest struct {
	RequestID  string
	PlayerID   string
	PlayerName string
	ProxyID    string
	ServerID   string
	SlotID     string
	Metadata   map[string]string
}

func (m PlayerReservationRequest) MessageType() string { return "player.reservation.request" }
func (m PlayerReservationRequest) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
		ServerID  string `valid:"required"`
		SlotID    string `valid:"required"`
	}{m.RequestID, m.ServerID, m.SlotID})
}

// PlayerReservationResponse is the backend's reply, spec.md §6.1.
type PlayerReservationResponse struct {
	RequestID        string
	ServerID         string
	Accepted         bool
	ReservationToken string
	Reason           string
}

func (m PlayerReservationResponse) MessageType() string { return "player.reservation.response" }
func (m PlayerReservationResponse) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
	}{m.RequestID})
}

// RouteAction distinguishes a ROUTE from a DISCONNECT command.
type RouteAction string

const (
	ActionRoute             RouteAction = "ROUTE"
	ActionDisconnect        RouteAction = "DISCONNECT"
	ActionRejoinUnavailable RouteAction = "REJOIN_SLOT_UNAVAILABLE"
)

// PlayerRouteCommand is broadcast on both the per-proxy and per-server
// route channels, spec.md §6.1, §4.9.6.
type PlayerRouteCommand struct {
	Action     RouteAction
	RequestID  string
	PlayerID   string
	PlayerName string
	ProxyID    string
	ServerID   string
	SlotID     string
	SlotSuffix string
	TargetWorld string
	SpawnX, SpawnY, SpawnZ       float64
	SpawnYaw, SpawnPitch         float64
	Reason     string
	RouteType  string // "", "environment"
	Metadata   map[string]string
}

func (m PlayerRouteCommand) MessageType() string { return "player.route.command" }
func (m PlayerRouteCommand) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
		PlayerID  string `valid:"required"`
	}{m.RequestID, m.PlayerID})
}

// AckStatus is the outcome a proxy reports for a dispatched route.
type AckStatus string

const (
	AckSuccess AckStatus = "SUCCESS"
	AckFailed  AckStatus = "FAILED"
)

// PlayerRouteAck is the proxy's reply to a ROUTE command, spec.md §6.1.
type PlayerRouteAck struct {
	RequestID string
	PlayerID  string
	ProxyID   string
	Status    AckStatus
	Reason    string
	SlotID    string
}

func (m PlayerRouteAck) MessageType() string { return "player.route.ack" }
func (m PlayerRouteAck) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
	}{m.RequestID})
}

// EnvironmentRouteRequest is a cross-game routing request, spec.md §4.9.10.
type EnvironmentRouteRequest struct {
	RequestID           string
	PlayerID            string
	PlayerName          string
	ProxyID             string
	OriginServerID      string
	TargetEnvironmentID string
	TargetServerID      string
	WorldName           string
	SpawnX, SpawnY, SpawnZ float64
	FailureMode         string // "KICK_ON_FAIL" | "REPORT_ONLY"
	Metadata            map[string]string
}

func (m EnvironmentRouteRequest) MessageType() string { return "registry.environment.route.request" }
func (m EnvironmentRouteRequest) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID           string `valid:"required"`
		TargetEnvironmentID string `valid:"required"`
	}{m.RequestID, m.TargetEnvironmentID})
}

// PartyReservationCreated records a pre-allocated slot for a group.
type PartyReservationCreated struct {
	ReservationID    string
	PartyID          string
	FamilyID         string
	VariantID        string
	TargetServerID   string
	TargetSlotID     string
	ReservationToken string
	Members          []string
}

func (m PartyReservationCreated) MessageType() string { return "party.reservation.created" }
func (m PartyReservationCreated) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ReservationID string `valid:"required"`
	}{m.ReservationID})
}

// PartyReservationClaimed closes the per-player portion of a reservation.
type PartyReservationClaimed struct {
	ReservationID string
	PlayerID      string
}

func (m PartyReservationClaimed) MessageType() string { return "party.reservation.claimed" }
func (m PartyReservationClaimed) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ReservationID string `valid:"required"`
		PlayerID      string `valid:"required"`
	}{m.ReservationID, m.PlayerID})
}

// MatchRosterCreated locks a slot to an explicit player set.
type MatchRosterCreated struct {
	MatchID  string
	SlotID   string
	ServerID string
	Players  []string
}

func (m MatchRosterCreated) MessageType() string { return "match.roster.created" }
func (m MatchRosterCreated) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		MatchID string `valid:"required"`
		SlotID  string `valid:"required"`
	}{m.MatchID, m.SlotID})
}

// MatchRosterEnded clears a previously-created roster lock.
type MatchRosterEnded struct {
	MatchID string
	SlotID  string
}

func (m MatchRosterEnded) MessageType() string { return "match.roster.ended" }
func (m MatchRosterEnded) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		SlotID string `valid:"required"`
	}{m.SlotID})
}
