package shutdown

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// Phase is a service's reported progress through a shutdown intent.
type Phase string

const (
	PhaseEvacuate Phase = "EVACUATE"
	PhaseEvict    Phase = "EVICT"
	PhaseShutdown Phase = "SHUTDOWN"
)

// ShutdownIntentMessage broadcasts a multi-phase shutdown plan to the
// affected services, spec.md §6.1 registry.shutdown.intent.
type ShutdownIntentMessage struct {
	ID                  string
	Services            []string
	CountdownSeconds    int
	Reason              string
	BackendTransferHint string
	Force               bool
	Cancelled           bool
}

func (m ShutdownIntentMessage) MessageType() string { return "registry.shutdown.intent" }
func (m ShutdownIntentMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		ID       string   `valid:"required"`
		Services []string `valid:"required"`
	}{m.ID, m.Services})
}

// ShutdownIntentUpdateMessage is a service's progress report as it advances
// through EVACUATE -> EVICT -> SHUTDOWN, spec.md §6.1 registry.shutdown.update.
type ShutdownIntentUpdateMessage struct {
	IntentID  string
	ServiceID string
	Phase     Phase
	PlayerIDs []string
}

func (m ShutdownIntentUpdateMessage) MessageType() string { return "registry.shutdown.update" }
func (m ShutdownIntentUpdateMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		IntentID  string `valid:"required"`
		ServiceID string `valid:"required"`
	}{m.IntentID, m.ServiceID})
}
