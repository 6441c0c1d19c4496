package serverregistry

import (
	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
)

// RegistrationRequestMessage is a backend server's registration request,
// spec.md §6.1 server.registration.request.
type RegistrationRequestMessage struct {
	TempID      string
	ServerType  string
	MaxCapacity int
	Address     string
	Port        int
	Role        string
	Version     string
}

func (m RegistrationRequestMessage) MessageType() string { return "server.registration.request" }
func (m RegistrationRequestMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		TempID  string `valid:"required"`
		Address string `valid:"required"`
	}{m.TempID, m.Address})
}

// RegistrationResponseMessage is sent back to the registering backend and
// broadcast to proxies so they learn of the new server, spec.md §6.1
// server.registration.response.
type RegistrationResponseMessage struct {
	TempID          string
	AssignedServerID string
	Success         bool
	Message         string
	ServerType      string
	Address         string
	Port            int
	ProxyID         string
}

func (m RegistrationResponseMessage) MessageType() string { return "server.registration.response" }
func (m RegistrationResponseMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		TempID string `valid:"required"`
	}{m.TempID})
}

// RemovalMessage announces a server leaving the active pool, spec.md §6.1
// server.removal.
type RemovalMessage struct {
	ServerID   string
	ServerType string
	Reason     string
}

func (m RemovalMessage) MessageType() string { return "server.removal" }
func (m RemovalMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ServerID string `valid:"required"`
	}{m.ServerID})
}

// EvacuationRequestMessage asks a backend to evacuate its players ahead of
// removal, spec.md §6.1 server.evacuation.request.
type EvacuationRequestMessage struct {
	ServerID     string
	Reason       string
	TimeoutMillis int
}

func (m EvacuationRequestMessage) MessageType() string { return "server.evacuation.request" }
func (m EvacuationRequestMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ServerID string `valid:"required"`
	}{m.ServerID})
}

// DefaultEvacuationTimeoutMillis is applied when a request omits it.
const DefaultEvacuationTimeoutMillis = 5000

// EvacuationResponseMessage is the backend's evacuation report, spec.md
// §6.1 server.evacuation.response.
type EvacuationResponseMessage struct {
	ServerID         string
	Success          bool
	PlayersEvacuated int
	PlayersFailed    int
	Message          string
}

func (m EvacuationResponseMessage) MessageType() string { return "server.evacuation.response" }
func (m EvacuationResponseMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ServerID string `valid:"required"`
	}{m.ServerID})
}

// SlotFamilyAdvertisementMessage reports a backend's per-family slot
// capacity and variants, spec.md §6.1 slot.family.advertisement.
type SlotFamilyAdvertisementMessage struct {
	ServerID         string
	FamilyCapacities map[string]int
	FamilyVariants   map[string][]string
}

func (m SlotFamilyAdvertisementMessage) MessageType() string { return "slot.family.advertisement" }
func (m SlotFamilyAdvertisementMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ServerID string `valid:"required"`
	}{m.ServerID})
}

// SlotStatusMessage reports a single logical slot's status, spec.md §6.1
// slot.status.
type SlotStatusMessage struct {
	ServerID      string
	SlotID        string
	SlotSuffix    string
	Status        string
	OnlinePlayers int
	MaxPlayers    int
	Metadata      map[string]string
}

func (m SlotStatusMessage) MessageType() string { return "slot.status" }
func (m SlotStatusMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ServerID string `valid:"required"`
		SlotID   string `valid:"required"`
	}{m.ServerID, m.SlotID})
}

// ToUpdate converts the wire message into the internal SlotStatusUpdate,
// parsing the status string via model.ParseSlotStatus.
func (m SlotStatusMessage) ToUpdate() SlotStatusUpdate {
	return SlotStatusUpdate{
		SlotID:        m.SlotID,
		SlotSuffix:    m.SlotSuffix,
		Status:        model.ParseSlotStatus(m.Status),
		OnlinePlayers: m.OnlinePlayers,
		MaxPlayers:    m.MaxPlayers,
		Metadata:      m.Metadata,
	}
}
