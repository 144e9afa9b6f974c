// Package supervisor wires per-(venue, data_type) streaming clients to the
// wire-format parsers and the publication registry, drives periodic
// subscription reconciliation, and aggregates per-venue counters into the
// gateway's health view. It generalizes the teacher's monolith-wiring code
// in cmd/arbitrage into the supervisor/reconnection controller of SPEC_FULL
// §4.4.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/gateway/internal/apm"
	"github.com/sawpanic/gateway/internal/config"
	"github.com/sawpanic/gateway/internal/healthsrv"
	"github.com/sawpanic/gateway/internal/logx"
	"github.com/sawpanic/gateway/internal/metrics"
	"github.com/sawpanic/gateway/internal/pubreg"
	"github.com/sawpanic/gateway/internal/ratelimit"
	"github.com/sawpanic/gateway/internal/record"
	"github.com/sawpanic/gateway/internal/wireparse"
	"github.com/sawpanic/gateway/internal/wsstream"
)

// maxReconciliationAttempts bounds the number of subscribe frames issued per
// OPEN episode before reconciliation gives up on a client until its next
// reconnect, per spec §4.4/§8 property 7.
const maxReconciliationAttempts = 3

// VenueHealth is the coarse per-venue view spec §4.4 derives from a venue's
// clients.
type VenueHealth struct {
	Connected   bool
	MessagesIn  int64
	MessagesOut int64
	Errors      int64
}

// binding is one (venue, data_type) client plus the bookkeeping
// reconciliation needs to bound its subscribe attempts per OPEN episode.
type binding struct {
	venue    record.Venue
	dataType record.DataType
	client   *wsstream.Client

	mu         sync.Mutex
	subscribed bool
	attempts   int
}

// Supervisor owns every streaming client the gateway runs and the
// reconciliation loop that keeps their subscriptions current.
type Supervisor struct {
	cfg    *config.Config
	log    *logx.Logger
	reg    *pubreg.Registry
	met    *metrics.Instruments
	tracer apm.Tracer

	subscribeLimiter *ratelimit.Limiter

	bindings []*binding

	reconcileStop chan struct{}
	reconcileDone chan struct{}
}

// New builds a Supervisor. met and tracer are optional; a nil
// *metrics.Instruments disables metric recording and a nil apm.Tracer
// disables span creation on the client's connect path.
func New(cfg *config.Config, log *logx.Logger, reg *pubreg.Registry, met *metrics.Instruments, tracer apm.Tracer) *Supervisor {
	if log == nil {
		log = logx.Discard()
	}
	return &Supervisor{
		cfg:              cfg,
		log:              log,
		reg:              reg,
		met:              met,
		tracer:           tracer,
		subscribeLimiter: ratelimit.NewWithBurst(5, 5),
		reconcileStop:    make(chan struct{}),
		reconcileDone:    make(chan struct{}),
	}
}

// Start constructs a client per enabled (venue, data_type), launches each
// client's ConnectWithRetry in its own goroutine, and launches the
// reconciliation loop. It returns without waiting for any client to reach
// OPEN; individual clients keep reconnecting on their own afterward.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, vc := range s.cfg.Exchanges {
		if !vc.Enabled {
			continue
		}
		parser, subscriber, ok := wireparse.ForVenue(vc.Venue)
		if !ok {
			return fmt.Errorf("supervisor: no parser registered for venue %s", vc.Venue)
		}
		for _, dt := range vc.DataTypes {
			b := s.buildBinding(vc.Venue, dt, parser, subscriber, config.Endpoint(vc.Venue))
			s.bindings = append(s.bindings, b)
		}
	}

	for _, b := range s.bindings {
		go func(b *binding) {
			if err := b.client.ConnectWithRetry(ctx); err != nil {
				s.log.Error(ctx, "client failed to reach OPEN", "venue", b.venue.String(),
					"data_type", b.dataType.String(), "error", err)
			}
		}(b)
	}

	go s.reconcileLoop(ctx)
	return nil
}

func (s *Supervisor) buildBinding(v record.Venue, dt record.DataType, parser wireparse.Parser, subscriber wireparse.Subscriber, url string) *binding {
	wscfg := wsstream.DefaultConfig(v, dt, url, config.Compression(v))
	wscfg.Parser = parser
	wscfg.Subscriber = subscriber
	wscfg.Registry = s.reg
	wscfg.Log = s.log.With("venue", v.String(), "data_type", dt.String())
	wscfg.Metrics = s.met
	wscfg.Tracer = s.tracer
	wscfg.SubscribeLimiter = s.subscribeLimiter
	if s.cfg.ReconnectMaxRetries > 0 {
		wscfg.RetryBudget = s.cfg.ReconnectMaxRetries
	}

	client := wsstream.New(wscfg)
	b := &binding{venue: v, dataType: dt, client: client}

	client.OnStateChange(func(state wsstream.State, err error) {
		if state == wsstream.StateOpen {
			b.mu.Lock()
			b.subscribed = false
			b.attempts = 0
			b.mu.Unlock()
		}
	})

	return b
}

// reconcileLoop issues subscribe frames for clients that are OPEN but have
// not yet had their subscription replayed in this episode, per spec §4.4.
func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer close(s.reconcileDone)

	interval := config.ReconciliationInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconcileStop:
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *Supervisor) reconcileOnce(ctx context.Context) {
	for _, b := range s.bindings {
		if b.client.State() != wsstream.StateOpen {
			continue
		}
		b.mu.Lock()
		if b.subscribed || b.attempts >= maxReconciliationAttempts {
			b.mu.Unlock()
			continue
		}
		b.attempts++
		attempt := b.attempts
		b.mu.Unlock()

		symbols := s.cfg.SymbolsForVenue(b.venue)
		if len(symbols) == 0 {
			b.mu.Lock()
			b.subscribed = true
			b.mu.Unlock()
			continue
		}

		if err := b.client.Subscribe(ctx, symbols); err != nil {
			s.log.Warn(ctx, "subscribe attempt failed", "venue", b.venue.String(),
				"data_type", b.dataType.String(), "attempt", attempt, "error", err)
			continue
		}
		b.mu.Lock()
		b.subscribed = true
		b.mu.Unlock()
	}
}

// Health returns the aggregated per-venue view of spec §4.4.
func (s *Supervisor) Health() map[record.Venue]VenueHealth {
	out := make(map[record.Venue]VenueHealth)
	for _, b := range s.bindings {
		h := out[b.venue]
		snap := b.client.Snapshot()
		if b.client.State() == wsstream.StateOpen {
			h.Connected = true
		}
		h.MessagesIn += snap.MessagesIn
		h.MessagesOut += snap.MessagesOut
		h.Errors += snap.ParseErrors + snap.TransportErrors
		out[b.venue] = h
	}
	return out
}

// RegisterHealthChecks wires one healthsrv check per venue, consulted by
// /health and /ready.
func (s *Supervisor) RegisterHealthChecks(hs *healthsrv.Server) {
	for _, v := range []record.Venue{record.Binance, record.OKX, record.Bybit} {
		venue := v
		hs.RegisterCheck(venue.String(), func() (healthsrv.Status, string) {
			h, ok := s.Health()[venue]
			if !ok || !h.Connected {
				return healthsrv.StatusDown, "not connected"
			}
			return healthsrv.StatusUp, ""
		})
	}
}

// Stop cancels the reconciliation loop and closes every client, bounded by
// ctx's deadline per spec §4.4/§5. It does not release publication
// handles; the ipc.Registry owner closes the streams (cmd/gateway defers
// CloseAll).
func (s *Supervisor) Stop(ctx context.Context) error {
	close(s.reconcileStop)

	select {
	case <-s.reconcileDone:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}

	var wg sync.WaitGroup
	for _, b := range s.bindings {
		wg.Add(1)
		go func(b *binding) {
			defer wg.Done()
			if err := b.client.Close(); err != nil {
				s.log.Warn(ctx, "error closing client", "venue", b.venue.String(),
					"data_type", b.dataType.String(), "error", err)
			}
		}(b)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}

	return nil
}
