// Package bridge is the surface the UI talks to. It owns both protocol
// adapters and feeds every inbound request through one pipeline.
//
// Request flow:
//
//	legacy client ──call_request──┐
//	                              ├──→ track (in-flight) → middleware chain → dispatcher → signer
//	modern client ─session_request┘
//
// Start order: load registry → rehydrate legacy sessions → run modern event
// loop → schedule reconcile. Shutdown reverses it and waits for in-flight
// requests.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/isabella232/mech/legacy"
	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/middleware"
	"github.com/isabella232/mech/modern"
	"github.com/isabella232/mech/protocol"
	"github.com/isabella232/mech/registry"
	"github.com/isabella232/mech/session"
)

var (
	ErrModernDisconnect  = errors.New("disconnecting modern sessions is not supported")
	ErrModernUnavailable = errors.New("modern protocol client not configured")
	ErrShuttingDown      = errors.New("bridge shutting down")
	ErrAlreadyStarted    = errors.New("bridge already started")
	ErrNotStarted        = errors.New("bridge not started")
)

type Options struct {
	ChainID     uint64
	MechAddress string
	Registry    *registry.Registry
	Dial        legacy.Dialer
	Modern      modern.Client // nil disables generation-2 pairing
	Handler     middleware.HandlerFunc

	ModernQueueSize int
	ReconcileSpec   string // cron spec for modern reconcile, empty disables it
	Log             zerolog.Logger
}

type Bridge struct {
	opts Options
	log  zerolog.Logger

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once in Start
	wg          sync.WaitGroup         // in-flight requests
	starting    atomic.Bool
	started     atomic.Bool // set once handler is built

	inflightMu sync.Mutex // orders wg.Add against setting shutdown
	shutdown   atomic.Bool

	legacy *legacy.Adapter
	modern *modern.Adapter

	cron       *cron.Cron
	stopModern context.CancelFunc
	modernDone chan struct{}
}

func New(opts Options) *Bridge {
	b := &Bridge{
		opts: opts,
		log:  opts.Log.With().Str("component", "bridge").Logger(),
	}
	b.legacy = legacy.New(legacy.Options{
		Dial:        opts.Dial,
		Sessions:    opts.Registry,
		Handler:     b.serve,
		MechAddress: opts.MechAddress,
		ChainID:     opts.ChainID,
		Log:         opts.Log,
	})
	if opts.Modern != nil {
		b.modern = modern.New(modern.Options{
			Client:    opts.Modern,
			Sessions:  opts.Registry,
			Handler:   b.serve,
			QueueSize: opts.ModernQueueSize,
			Log:       opts.Log,
		})
	}
	return b
}

// Use registers a middleware. Middlewares run in the order they are added and
// must be registered before Start.
func (b *Bridge) Use(mw middleware.Middleware) {
	b.middlewares = append(b.middlewares, mw)
}

// Start restores persisted sessions and begins serving both protocols. It
// returns once restoration is done; serving continues in the background.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.starting.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	b.handler = middleware.Chain(b.middlewares...)(b.opts.Handler)
	b.started.Store(true)

	if err := b.opts.Registry.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if err := b.legacy.Rehydrate(ctx, b.opts.Registry.Sessions()); err != nil {
		return fmt.Errorf("restore legacy sessions: %w", err)
	}

	if b.modern != nil {
		runCtx, cancel := context.WithCancel(context.Background())
		b.stopModern = cancel
		b.modernDone = make(chan struct{})
		go func() {
			defer close(b.modernDone)
			if err := b.modern.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Error().Err(err).Msg("Modern event loop stopped")
			}
		}()

		if b.opts.ReconcileSpec != "" {
			b.cron = cron.New()
			if _, err := b.cron.AddFunc(b.opts.ReconcileSpec, b.reconcile); err != nil {
				cancel()
				<-b.modernDone
				return fmt.Errorf("reconcile schedule %q: %w", b.opts.ReconcileSpec, err)
			}
			b.cron.Start()
		}
	}

	b.log.Info().
		Uint64("chain_id", b.opts.ChainID).
		Str("mech", b.opts.MechAddress).
		Int("sessions", len(b.opts.Registry.Sessions())).
		Msg("Bridge started")
	return nil
}

func (b *Bridge) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.modern.Reconcile(ctx); err != nil {
		b.log.Warn().Err(err).Msg("Modern reconcile failed")
	}
}

// serve is the RequestHandler both adapters call. It tracks the request for
// graceful shutdown.
func (b *Bridge) serve(ctx context.Context, s session.Session, req *message.Request) (any, error) {
	b.inflightMu.Lock()
	if b.shutdown.Load() {
		b.inflightMu.Unlock()
		return nil, ErrShuttingDown
	}
	b.wg.Add(1)
	b.inflightMu.Unlock()
	defer b.wg.Done()
	return b.handler(ctx, s, req)
}

// Pair routes uri to the adapter for its protocol generation.
func (b *Bridge) Pair(ctx context.Context, uri string) error {
	if b.shutdown.Load() {
		return ErrShuttingDown
	}
	if !b.started.Load() {
		return ErrNotStarted
	}
	parsed, err := protocol.ParseURI(uri)
	if err != nil {
		return err
	}
	switch {
	case parsed.IsLegacy():
		return b.legacy.Pair(ctx, parsed.Raw)
	case b.modern == nil:
		return ErrModernUnavailable
	default:
		return b.modern.Pair(ctx, parsed.Raw)
	}
}

// Disconnect ends the session with identifier id. Unknown ids are a no-op.
func (b *Bridge) Disconnect(ctx context.Context, id string) error {
	s, ok := b.opts.Registry.Get(id)
	if !ok {
		return nil
	}
	if s.IsModern() {
		return ErrModernDisconnect
	}
	return b.legacy.Disconnect(ctx, s.ID)
}

// Sessions is a snapshot of every session with its metadata.
func (b *Bridge) Sessions() []session.WithMetadata {
	return b.opts.Registry.List()
}

// Subscribe registers fn for session list changes.
func (b *Bridge) Subscribe(fn registry.Observer) (unsubscribe func()) {
	return b.opts.Registry.Subscribe(fn)
}

// LegacyState exposes the handshake state of a live legacy session.
func (b *Bridge) LegacyState(uri string) (legacy.State, bool) {
	return b.legacy.State(uri)
}

// Shutdown performs graceful shutdown:
//  1. Refuse new pairings and requests
//  2. Stop the reconcile schedule and the modern event loop
//  3. Close legacy clients, keeping their sessions for the next start
//  4. Wait for in-flight requests to finish (with timeout)
func (b *Bridge) Shutdown(timeout time.Duration) error {
	b.inflightMu.Lock()
	b.shutdown.Store(true)
	b.inflightMu.Unlock()
	deadline := time.After(timeout)

	if b.cron != nil {
		<-b.cron.Stop().Done()
	}
	if b.stopModern != nil {
		b.stopModern()
	}

	done := make(chan struct{})
	go func() {
		if err := b.legacy.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Closing legacy clients")
		}
		b.wg.Wait()
		if b.modernDone != nil {
			<-b.modernDone
		}
		close(done)
	}()

	select {
	case <-done:
		b.log.Info().Msg("Bridge stopped")
		return nil
	case <-deadline:
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
