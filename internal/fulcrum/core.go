// Package fulcrum wires every component (C1-C12) into one running process:
// the persistent mirror, the id allocators, the two registries, the two
// heartbeat monitors, the provisioner, the routing coordinator, the
// shutdown coordinator, the network profile manager and the social router.
// Modeled on tinode/chat's server/globals.go + server/main.go split between
// "construct every subsystem" and "run until signalled" (main.go itself
// lives in cmd/fulcrum-core).
package fulcrum

import (
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/config"
	"github.com/fulcrum-mc/fulcrum-core/internal/heartbeat"
	"github.com/fulcrum-mc/fulcrum-core/internal/idalloc"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
	"github.com/fulcrum-mc/fulcrum-core/internal/model"
	"github.com/fulcrum-mc/fulcrum-core/internal/network"
	"github.com/fulcrum-mc/fulcrum-core/internal/provision"
	"github.com/fulcrum-mc/fulcrum-core/internal/proxyregistry"
	"github.com/fulcrum-mc/fulcrum-core/internal/routing"
	"github.com/fulcrum-mc/fulcrum-core/internal/serverregistry"
	"github.com/fulcrum-mc/fulcrum-core/internal/shutdown"
	"github.com/fulcrum-mc/fulcrum-core/internal/social"
	"github.com/pkg/errors"
)

// Core is the assembled Fulcrum process: every component plus the bus and
// mirror they share.
type Core struct {
	log *zap.SugaredLogger
	Bus *bus.Bus
	kv  kvstore.Adapter

	Proxies  *proxyregistry.Registry
	Servers  *serverregistry.Registry
	Routing  *routing.Coordinator
	Shutdown *shutdown.Coordinator
	Network  *network.Manager
	Social   *social.Router

	proxyHeartbeat *heartbeat.Monitor
	serverHeartbeat *heartbeat.Monitor
}

// New constructs every component, restores state from the persistent
// mirror, and subscribes every inbound channel. If boot-time restore fails
// it returns the wrapped error and no Core, and cmd/fulcrum-core logs that
// error as fatal (spec.md §7 "KV mirror failure on boot" is treated as
// unrecoverable, matching tinode/chat's store.Store.Open fail-fast in
// server/main.go).
func New(cfg config.Config, log *zap.SugaredLogger) (*Core, error) {
	b := bus.New(log)

	kv, err := openAdapter(cfg)
	if err != nil {
		return nil, err
	}
	mirror := kvstore.NewMirror(kv, log)

	proxyAlloc := idalloc.New(idalloc.KindProxy, log)
	serverAlloc := idalloc.New(idalloc.KindServer, log)

	proxies := proxyregistry.New(proxyAlloc, mirror, log)
	servers := serverregistry.New(serverAlloc, mirror, log)

	if err := restoreProxies(proxies, proxyAlloc, mirror, log); err != nil {
		return nil, errors.Wrap(err, "boot restore: proxies")
	}
	if err := restoreServers(servers, serverAlloc, mirror, log); err != nil {
		return nil, errors.Wrap(err, "boot restore: servers")
	}

	proxyHB := heartbeat.New("proxy", heartbeat.ProxyTarget{Registry: proxies}, b, mirror, log)
	serverHB := heartbeat.New("server", heartbeat.ServerTarget{Registry: servers}, b, mirror, log)

	provisioner := provision.New(servers, b, mirror, log)
	shutdownCoord := shutdown.New(servers, b, mirror, log)
	routingCoord := routing.New(proxies, servers, provisioner, shutdownCoord, b, mirror, log)
	networkMgr := network.New(b, mirror, log)
	socialRouter := social.New(b, mirror, log)

	if err := restoreNetworkProfile(networkMgr, mirror); err != nil {
		return nil, errors.Wrap(err, "boot restore: network profile")
	}

	c := &Core{
		log:             log.Named("core"),
		Bus:             b,
		kv:              kv,
		Proxies:         proxies,
		Servers:         servers,
		Routing:         routingCoord,
		Shutdown:        shutdownCoord,
		Network:         networkMgr,
		Social:          socialRouter,
		proxyHeartbeat:  proxyHB,
		serverHeartbeat: serverHB,
	}
	c.subscribe()
	return c, nil
}

func openAdapter(cfg config.Config) (kvstore.Adapter, error) {
	var kv kvstore.Adapter
	switch cfg.KVAdapter {
	case "", "memory":
		kv = kvstore.NewMemoryAdapter()
	default:
		return nil, errors.Errorf("config: unknown kv_adapter %q", cfg.KVAdapter)
	}
	if err := kv.Open(cfg.KVConfig); err != nil {
		return nil, errors.Wrap(err, "opening kv adapter")
	}
	return kv, nil
}

// restoreProxies replays every proxy:active:* and proxy:unavailable:*
// mirror entry back into the registry and reconciles the id allocator so a
// fresh Allocate() call can never collide with a restored id (spec.md §4.6,
// §7).
func restoreProxies(reg *proxyregistry.Registry, alloc *idalloc.Allocator, mirror *kvstore.Mirror, log *zap.SugaredLogger) error {
	restore := func(p *model.RegisteredProxy) {
		if instance, err := idalloc.ParseInstance(p.ID); err == nil {
			alloc.MarkActive(instance)
			log.Infow("restored proxy from mirror", "proxyId", p.ID, "bootGen", alloc.Correlate())
		} else {
			log.Warnw("restored proxy id does not match fulcrum-proxy-N", "proxyId", p.ID, "error", err)
		}
		reg.Restore(p)
	}

	if err := mirror.ScanInto("proxy:active:", func() interface{} { return &model.RegisteredProxy{} },
		func(_ string, v interface{}) { restore(v.(*model.RegisteredProxy)) }); err != nil {
		return err
	}
	if err := mirror.ScanInto("proxy:unavailable:", func() interface{} { return &model.RegisteredProxy{} },
		func(key string, v interface{}) {
			if len(key) > 3 && key[len(key)-3:] == ":ts" {
				return // companion timestamp entry, not a proxy snapshot
			}
			restore(v.(*model.RegisteredProxy))
		}); err != nil {
		return err
	}
	return nil
}

func restoreServers(reg *serverregistry.Registry, alloc *idalloc.Allocator, mirror *kvstore.Mirror, log *zap.SugaredLogger) error {
	restore := func(s *model.RegisteredServer) {
		if instance, err := idalloc.ParseInstance(s.ID); err == nil {
			alloc.MarkActive(instance)
			log.Infow("restored server from mirror", "serverId", s.ID, "bootGen", alloc.Correlate())
		} else {
			log.Warnw("restored server id does not match fulcrum-server-N", "serverId", s.ID, "error", err)
		}
		reg.RestoreServer(s)
	}

	if err := mirror.ScanInto("server:active:", func() interface{} { return &model.RegisteredServer{} },
		func(_ string, v interface{}) { restore(v.(*model.RegisteredServer)) }); err != nil {
		return err
	}
	if err := mirror.ScanInto("server:unavailable:", func() interface{} { return &model.RegisteredServer{} },
		func(_ string, v interface{}) { restore(v.(*model.RegisteredServer)) }); err != nil {
		return err
	}
	return nil
}

func restoreNetworkProfile(mgr *network.Manager, mirror *kvstore.Mirror) error {
	var profile model.NetworkProfile
	ok, err := mirror.LoadJSON("network:active-profile", &profile)
	if err != nil {
		return err
	}
	if ok {
		mgr.Restore(&profile)
	}
	return nil
}

// subscribe wires every inbound bus channel this package's components do
// not already self-subscribe in their constructors (registration,
// announcement, heartbeat, slot advertisement/status, player routing,
// environment routing, party/roster). Components that already subscribe
// themselves (shutdown, network, social) are left alone.
func (c *Core) subscribe() {
	c.Bus.Subscribe(bus.ChanServerRegistrationRequest, func(env bus.Envelope) {
		if msg, ok := env.Body.(serverregistry.RegistrationRequestMessage); ok {
			c.handleServerRegistration(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanServerRemoval, func(env bus.Envelope) {
		if msg, ok := env.Body.(serverregistry.RemovalMessage); ok {
			c.Servers.RemoveImmediately(msg.ServerID)
		}
	})
	c.Bus.Subscribe(bus.ChanServerEvacuationResponse, func(env bus.Envelope) {
		if msg, ok := env.Body.(serverregistry.EvacuationResponseMessage); ok {
			c.log.Infow("evacuation response", "serverId", msg.ServerID, "success", msg.Success,
				"evacuated", msg.PlayersEvacuated, "failed", msg.PlayersFailed)
		}
	})
	c.Bus.Subscribe(bus.ChanProxyAnnouncement, func(env bus.Envelope) {
		if msg, ok := env.Body.(proxyregistry.AnnouncementMessage); ok {
			c.handleProxyAnnouncement(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanHeartbeat, func(env bus.Envelope) {
		if msg, ok := env.Body.(heartbeat.HeartbeatMessage); ok {
			c.handleHeartbeat(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanSlotFamilyAdvertisement, func(env bus.Envelope) {
		if msg, ok := env.Body.(serverregistry.SlotFamilyAdvertisementMessage); ok {
			c.Servers.UpdateSlotFamilyAdvertisement(msg.ServerID, msg.FamilyCapacities, msg.FamilyVariants)
		}
	})
	c.Bus.Subscribe(bus.ChanSlotStatus, func(env bus.Envelope) {
		if msg, ok := env.Body.(serverregistry.SlotStatusMessage); ok {
			c.Routing.HandleSlotStatus(msg.ServerID, msg.ToUpdate())
		}
	})
	c.Bus.Subscribe(bus.ChanPlayerRequest, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.PlayerSlotRequest); ok {
			c.Routing.HandlePlayerSlotRequest(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanPlayerReservationResponse, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.PlayerReservationResponse); ok {
			c.Routing.HandlePlayerReservationResponse(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanPlayerRouteAck, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.PlayerRouteAck); ok {
			c.Routing.HandlePlayerRouteAck(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanEnvironmentRouteRequest, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.EnvironmentRouteRequest); ok {
			c.Routing.HandleEnvironmentRouteRequest(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanPartyReservationCreated, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.PartyReservationCreated); ok {
			c.Routing.HandlePartyReservationCreated(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanMatchRosterCreated, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.MatchRosterCreated); ok {
			c.Routing.HandleMatchRosterCreated(msg)
		}
	})
	c.Bus.Subscribe(bus.ChanMatchRosterEnded, func(env bus.Envelope) {
		if msg, ok := env.Body.(routing.MatchRosterEnded); ok {
			c.Routing.HandleMatchRosterEnded(msg)
		}
	})
}

// handleServerRegistration implements spec.md §4.5's registration handshake:
// assign (or resume) an id, then broadcast the response both back to the
// requester and to every proxy so they learn of the new backend.
func (c *Core) handleServerRegistration(msg serverregistry.RegistrationRequestMessage) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid server registration", "error", err)
		return
	}
	id, _ := c.Servers.Register(msg.TempID, msg.ServerType, msg.Role, msg.Address, msg.Port, msg.MaxCapacity)
	c.Bus.Broadcast(bus.ChanServerRegistrationResponse, serverregistry.RegistrationResponseMessage{
		TempID:           msg.TempID,
		AssignedServerID: id,
		Success:          true,
		ServerType:       msg.ServerType,
		Address:          msg.Address,
		Port:             msg.Port,
	})
}

// handleProxyAnnouncement implements spec.md §4.4's proxy self-registration:
// the first announcement from an address/port pair mints an id (logged,
// not acked over the bus — spec.md names no dedicated ack channel for
// this), and every subsequent announcement from the same address/port is
// treated as a heartbeat rather than a fresh registration.
func (c *Core) handleProxyAnnouncement(msg proxyregistry.AnnouncementMessage) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid proxy announcement", "error", err)
		return
	}
	if existing, ok := c.Proxies.LookupByAddr(msg.Address, msg.Port); ok {
		c.Proxies.Heartbeat(existing.ID)
		return
	}
	id, _ := c.Proxies.Register("", msg.Address, msg.Port)
	c.log.Infow("proxy registered", "proxyId", id, "address", msg.Address, "port", msg.Port)
}

// handleHeartbeat routes a heartbeat to the monitor matching the sender's
// id prefix and, for backends, also folds the live player/TPS sample into
// the server registry (spec.md §4.7, §4.5).
func (c *Core) handleHeartbeat(msg heartbeat.HeartbeatMessage) {
	if err := msg.Validate(); err != nil {
		c.log.Warnw("dropping invalid heartbeat", "error", err)
		return
	}
	onUnknown := func(nodeID string) {
		c.Bus.Send(nodeID, bus.ChanRegistryReregRequest, heartbeat.ReregRequestMessage{NodeID: nodeID})
	}
	if isServerID(msg.NodeID) {
		c.Servers.UpdateMetrics(msg.NodeID, msg.PlayerCount, msg.TPS)
		c.serverHeartbeat.OnHeartbeat(msg.NodeID, onUnknown)
		return
	}
	c.proxyHeartbeat.OnHeartbeat(msg.NodeID, onUnknown)
}

func isServerID(id string) bool {
	return len(id) >= len("fulcrum-server-") && id[:len("fulcrum-server-")] == "fulcrum-server-"
}

// Shutdown signals the registries' cleanup loops and both heartbeat monitors
// to stop, then closes the KV adapter. It does not wait for those goroutines
// to exit.
func (c *Core) Shutdown() {
	c.Proxies.Shutdown()
	c.Servers.Shutdown()
	c.proxyHeartbeat.Shutdown()
	c.serverHeartbeat.Shutdown()
	c.kv.Close()
}
