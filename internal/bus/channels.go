package bus

import "fmt"

// Well-known channel constants, spec.md §6.1.
const (
	ChanServerRegistrationRequest  = "server.registration.request"
	ChanServerRegistrationResponse = "server.registration.response"
	ChanServerRemoval              = "server.removal"
	ChanServerEvacuationRequest    = "server.evacuation.request"
	ChanServerEvacuationResponse   = "server.evacuation.response"
	ChanHeartbeat                  = "heartbeat"
	ChanRegistryReregRequest       = "registry.rereg.request"
	ChanProxyAnnouncement          = "proxy.announcement"
	ChanSlotFamilyAdvertisement    = "slot.family.advertisement"
	ChanSlotStatus                 = "slot.status"
	ChanPlayerRequest               = "player.request"
	ChanPlayerReservationRequest   = "player.reservation.request"
	ChanPlayerReservationResponse  = "player.reservation.response"
	ChanPlayerRouteCommand          = "player.route.command"
	ChanPlayerRouteAck              = "player.route.ack"
	ChanEnvironmentRouteRequest    = "registry.environment.route.request"
	ChanPartyReservationCreated    = "party.reservation.created"
	ChanPartyReservationClaimed    = "party.reservation.claimed"
	ChanMatchRosterCreated         = "match.roster.created"
	ChanMatchRosterEnded           = "match.roster.ended"
	ChanShutdownIntent              = "registry.shutdown.intent"
	ChanShutdownUpdate              = "registry.shutdown.update"
	ChanNetworkConfigRequest       = "registry.network.config.request"
	ChanNetworkConfigUpdated       = "registry.network.config.updated"
	ChanRankUpdate                  = "registry.rank.update"
	ChanFriendMutationRequest      = "social.friend.mutation.request"
	ChanFriendRelationEvent        = "social.friend.relation.event"
	ChanFriendRequestEvent          = "social.friend.request.event"
	ChanStatusChange                 = "status.change"
)

// PlayerRouteChannel returns the per-proxy route channel a ROUTE/DISCONNECT
// command is broadcast on: player.route.<proxyId>.
func PlayerRouteChannel(proxyID string) string {
	return fmt.Sprintf("player.route.%s", proxyID)
}

// ServerPlayerRouteChannel returns the per-server mirror of the route
// command: server.player.route.<serverId>.
func ServerPlayerRouteChannel(serverID string) string {
	return fmt.Sprintf("server.player.route.%s", serverID)
}
