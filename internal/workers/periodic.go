// Package workers runs the background tickers banchod keeps alongside
// the packet dispatcher: spam-rate decay, the inactive-session reaper,
// and process resource sampling, grounded on the teacher's
// EnhancedMetrics.StartCollection ticker-goroutine pattern.
package workers

import (
	"context"
	"time"

	"banchod/internal/bancho"
	"banchod/internal/kv"
	"banchod/internal/logging"
	"banchod/internal/metrics"
	"banchod/internal/wire"
)

const (
	spamDecayInterval     = 10 * time.Second
	reaperInterval        = 300 * time.Second
	reaperMaxPingAge      = 300
	processSampleInterval = 15 * time.Second
)

// Periodic owns the three background loops. Each runs in its own
// goroutine started by Run and stops when ctx is cancelled.
type Periodic struct {
	world   *bancho.World
	log     logging.Logger
	metrics metrics.Sink
	sampler *metrics.ProcessSampler
	botID   int32
}

func New(world *bancho.World, log logging.Logger, sink metrics.Sink, sampler *metrics.ProcessSampler, botID int32) *Periodic {
	return &Periodic{world: world, log: log, metrics: sink, sampler: sampler, botID: botID}
}

// Run blocks until ctx is cancelled, driving all three tickers
// concurrently; callers launch it in its own goroutine.
func (p *Periodic) Run(ctx context.Context) {
	var done [3]chan struct{}
	for i := range done {
		done[i] = make(chan struct{})
	}
	go func() { defer close(done[0]); p.runSpamDecay(ctx) }()
	go func() { defer close(done[1]); p.runReaper(ctx) }()
	go func() { defer close(done[2]); p.runProcessSampler(ctx) }()
	for _, d := range done {
		<-d
	}
}

// runSpamDecay resets every session's spam counter every 10s, the decay
// half of the silence-on-spam rule whose increment side lives in
// Session.SpamProtect. §4.10 requires the reset happen under the
// session's mutation lock, the same lock World ops take around any
// other read-and-write of session state.
func (p *Periodic) runSpamDecay(ctx context.Context) {
	ticker := time.NewTicker(spamDecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.decayOnce(ctx)
		}
	}
}

func (p *Periodic) decayOnce(ctx context.Context) {
	for _, s := range p.world.Sessions.All() {
		lease, err := p.world.Svc.AcquireOrdered(ctx, bancho.DefaultLockTTL, kv.SessionMutationLockKey(s.TokenID()))
		if err != nil {
			continue
		}
		s.ResetSpam()
		p.world.Svc.ReleaseAll(ctx, lease)
	}
}

// runReaper evicts sessions that haven't pinged in over reaperMaxPingAge
// seconds, excluding the bot, IRC bridges, and tournament clients, which
// never ping on the usual cadence.
func (p *Periodic) runReaper(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce(ctx)
		}
	}
}

func (p *Periodic) reapOnce(ctx context.Context) {
	now := p.world.Svc.Clock.Now()
	for _, s := range p.world.Sessions.All() {
		if s.IsBot(p.botID) || s.IRC || s.Tournament {
			continue
		}
		if s.PingAge(now) <= reaperMaxPingAge {
			continue
		}
		p.log.Infow("reaping inactive session", "token_id", s.TokenID(), "user_id", s.UserID)
		s.Enqueue(wire.BuildNotification("disconnected for inactivity"))
		p.world.Logout(ctx, s.TokenID())
	}
}

// runProcessSampler feeds this process's own CPU/RSS usage to the
// metrics sink so operators can tell a stuck replica from an idle one.
func (p *Periodic) runProcessSampler(ctx context.Context) {
	if p.sampler == nil {
		return
	}
	ticker := time.NewTicker(processSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpu, rss, err := p.sampler.Sample()
			if err != nil {
				p.log.Debugw("process sample failed", "err", err)
				continue
			}
			p.metrics.ProcessSample(cpu, rss)
		}
	}
}
