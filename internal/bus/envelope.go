// Package bus implements Fulcrum's typed pub/sub primitives: a message
// envelope every payload carries, the well-known channel catalog, and a thin
// wrapper over an in-process bus transport. The wire transport itself is an
// external collaborator (spec.md §1) — this package only defines what rides
// on top of it.
package bus

import (
	"fmt"

	"github.com/asaskevich/govalidator"
)

// Message is implemented by every payload exchanged on the bus. MessageType
// must match one of the channel catalog's expected body shapes; Validate
// enforces the "required fields non-blank" contract from spec.md §4.1.
type Message interface {
	MessageType() string
	Validate() error
}

// Envelope is the generic frame every bus payload rides in: a message type
// tag, an optional schema version, and the typed body. RequestID is empty
// for messages that do not participate in request/response correlation.
type Envelope struct {
	MessageType string `json:"messageType"`
	Version     int    `json:"version,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	Body        Message
}

// ValidateStruct runs govalidator's struct-tag validation and wraps the
// first failure as an illegal-state error naming the offending message type.
// Typed messages call this from their Validate() method instead of hand
// rolling blank checks.
func ValidateStruct(messageType string, v interface{}) error {
	ok, err := govalidator.ValidateStruct(v)
	if !ok || err != nil {
		return fmt.Errorf("bus: invalid %s message: %w", messageType, errOrBlank(err))
	}
	return nil
}

func errOrBlank(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("required field missing or blank")
}

func requireNonBlank(messageType, field, value string) error {
	if value == "" {
		return fmt.Errorf("bus: %s missing required field %q", messageType, field)
	}
	return nil
}
