package proxyregistry

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// AnnouncementMessage is a proxy's self-announcement, spec.md §6.1
// proxy.announcement. It doubles as the proxy's registration request: there
// is no separate proxy.registration.request channel.
type AnnouncementMessage struct {
	ProxyID           string
	ProxyIndex        int
	HardCap           int
	SoftCap           int
	CurrentPlayerCount int
	Address           string
	Port              int
}

func (m AnnouncementMessage) MessageType() string { return "proxy.announcement" }
func (m AnnouncementMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		Address string `valid:"required"`
	}{m.Address})
}
