// Package spectator implements the host->followers frame relay (C8).
// Membership bookkeeping itself (spectating_token_id, host.spectators,
// the spect/<uid> stream, and #spect_<uid> instance channel) lives on
// Session and is orchestrated by the bancho package per §4.4's
// start_spectating/stop_spectating description; this package only holds
// the pure frame-forwarding rules that don't need a lock wider than the
// host's own session lock.
package spectator

// Enqueuer is the narrow slice of Session the relay needs to hand a
// built packet to a follower, mirroring stream.Enqueuer to avoid an
// import cycle with session.
type Enqueuer interface {
	TokenID() string
	Enqueue(data []byte)
}

// RelayFrames forwards a spectateFrames payload from the host to every
// follower, building one spectatorFrames packet per delivery via build.
// The host itself is always excluded.
func RelayFrames(followers []Enqueuer, hostTokenID string, frameData []byte, build func(data []byte) []byte) {
	packet := build(frameData)
	for _, f := range followers {
		if f.TokenID() == hostTokenID {
			continue
		}
		f.Enqueue(packet)
	}
}

// CantSpectate broadcasts noSongSpectator(host.uid) to every follower.
func CantSpectate(followers []Enqueuer, hostTokenID string, build func() []byte) {
	packet := build()
	for _, f := range followers {
		if f.TokenID() == hostTokenID {
			continue
		}
		f.Enqueue(packet)
	}
}
