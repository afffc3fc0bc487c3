package legacy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/middleware"
	"github.com/isabella232/mech/protocol"
	"github.com/isabella232/mech/session"
)

var (
	ErrNotLegacy = errors.New("not a legacy pairing uri")
	ErrClosed    = errors.New("legacy adapter closed")
)

// Sessions is the part of the session registry the adapter mutates.
type Sessions interface {
	Get(id string) (session.Session, bool)
	Add(ctx context.Context, s session.Session) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	SetMetadata(id string, md *session.Metadata)
}

type Options struct {
	Dial        Dialer
	Sessions    Sessions
	Handler     middleware.HandlerFunc
	MechAddress string // the only account ever approved
	ChainID     uint64
	Log         zerolog.Logger
}

// Adapter owns every live legacy client, at most one per URI.
type Adapter struct {
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	instances map[string]*instance
	wg        sync.WaitGroup
	closed    atomic.Bool
}

type instance struct {
	uri      string
	client   Client
	state    atomic.Int32
	finished sync.Once
}

func (i *instance) State() State { return State(i.state.Load()) }

func (i *instance) setState(s State) { i.state.Store(int32(s)) }

func New(opts Options) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		opts:      opts,
		log:       opts.Log.With().Str("component", "legacy").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*instance),
	}
}

// Pair dials a client for uri and returns once the client is listening. The
// handshake itself completes asynchronously. A dial failure leaves no session.
func (a *Adapter) Pair(ctx context.Context, uri string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	parsed, err := protocol.ParseURI(uri)
	if err != nil {
		return err
	}
	if !parsed.IsLegacy() {
		return fmt.Errorf("%w: version %d", ErrNotLegacy, parsed.Version)
	}
	uri = parsed.Raw

	inst := &instance{uri: uri}
	inst.setState(StatePairing)
	a.mu.Lock()
	if existing, ok := a.instances[uri]; ok && existing.State() != StateDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.instances[uri] = inst
	a.mu.Unlock()

	client, err := a.opts.Dial(ctx, uri)
	if err != nil {
		a.dropInstance(inst)
		a.log.Warn().Err(err).Str("uri", uri).Msg("Legacy pairing failed")
		return fmt.Errorf("pair: %w", err)
	}
	if !a.attach(inst, client, StateAwaitingPeerMetadata) {
		a.dropInstance(inst)
		return ErrClosed
	}

	// Recorded right away so the session is re-dialed after a restart.
	if _, err := a.opts.Sessions.Add(ctx, session.NewLegacy(uri)); err != nil {
		a.log.Error().Err(err).Str("uri", uri).Msg("Failed to record legacy session")
	}
	a.start(inst)
	return nil
}

// Rehydrate re-dials stored legacy sessions concurrently. A session whose dial
// fails stays in the registry so a later restart can try again.
func (a *Adapter) Rehydrate(ctx context.Context, sessions []session.Session) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, s := range sessions {
		if !s.IsLegacy() {
			continue
		}
		g.Go(func() error {
			client, err := a.opts.Dial(gctx, s.ID)
			if err != nil {
				a.log.Warn().Err(err).Str("uri", s.ID).Msg("Failed to restore legacy session")
				return nil
			}
			inst := &instance{uri: s.ID}
			a.mu.Lock()
			if existing, ok := a.instances[s.ID]; ok && existing.State() != StateDisconnected {
				a.mu.Unlock()
				client.Close()
				return nil
			}
			a.instances[s.ID] = inst
			a.mu.Unlock()

			if !a.attach(inst, client, StateActive) {
				a.dropInstance(inst)
				return nil
			}
			a.start(inst)
			return nil
		})
	}
	return g.Wait()
}

// Disconnect kills the session for uri and removes it. A URI that is neither
// live nor registered is a no-op.
func (a *Adapter) Disconnect(ctx context.Context, uri string) error {
	a.mu.Lock()
	inst, live := a.instances[uri]
	var client Client
	if live {
		client = inst.client
	}
	a.mu.Unlock()

	if client != nil {
		if err := client.KillSession(ctx); err != nil {
			a.log.Warn().Err(err).Str("uri", uri).Msg("Failed to kill legacy session")
		}
		a.finish(inst, "local disconnect")
		return nil
	}

	if _, ok := a.opts.Sessions.Get(uri); !ok {
		return nil
	}
	// No live client: a transient one is enough to tell the peer.
	client, err := a.opts.Dial(ctx, uri)
	if err != nil {
		a.log.Warn().Err(err).Str("uri", uri).Msg("Failed to reach peer for disconnect")
	} else {
		if err := client.KillSession(ctx); err != nil {
			a.log.Warn().Err(err).Str("uri", uri).Msg("Failed to kill legacy session")
		}
		client.Close()
	}
	if _, err := a.opts.Sessions.Remove(ctx, uri); err != nil {
		a.log.Error().Err(err).Str("uri", uri).Msg("Failed to persist session removal")
	}
	return nil
}

// State reports the state of the live instance for uri.
func (a *Adapter) State(uri string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	inst, ok := a.instances[uri]
	if !ok {
		return StateDisconnected, false
	}
	return inst.State(), true
}

// Close closes every client and waits for event loops to drain. Sessions stay
// registered so they are restored on the next start.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if !a.closed.CompareAndSwap(false, true) {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	clients := make([]Client, 0, len(a.instances))
	for _, inst := range a.instances {
		if inst.client != nil {
			clients = append(clients, inst.client)
		}
	}
	a.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.wg.Wait()
	return errors.Join(errs...)
}

// attach binds a dialed client to inst and reserves its event loop. It fails
// once the adapter is closing, in which case the client is closed.
func (a *Adapter) attach(inst *instance, client Client, state State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		client.Close()
		return false
	}
	inst.client = client
	inst.setState(state)
	a.wg.Add(1)
	return true
}

// start runs the event loop reserved by attach.
func (a *Adapter) start(inst *instance) {
	go func() {
		defer a.wg.Done()
		a.loop(inst)
	}()
}

// loop handles one session's events strictly in delivery order.
func (a *Adapter) loop(inst *instance) {
	log := a.log.With().Str("uri", inst.uri).Logger()
	for ev := range inst.client.Events() {
		switch ev.Kind {
		case EventSessionRequest:
			a.onSessionRequest(inst, ev, log)
		case EventConnect:
			if ev.PeerMeta != nil {
				a.opts.Sessions.SetMetadata(inst.uri, ev.PeerMeta)
			}
			if inst.State() != StateDisconnected {
				inst.setState(StateActive)
			}
		case EventCallRequest:
			a.onCallRequest(inst, ev, log)
		case EventDisconnect:
			log.Info().Msg("Peer disconnected")
			a.finish(inst, "peer disconnect")
		case EventError:
			log.Warn().Err(ev.Err).Stringer("state", inst.State()).Msg("Legacy client error")
			if inst.State() < StateActive {
				a.finish(inst, "handshake error")
			}
		default:
			log.Warn().Str("event", string(ev.Kind)).Msg("Ignoring unknown legacy event")
		}
	}
	// Transport gone without a disconnect: drop the handle, keep the session.
	a.dropInstance(inst)
}

func (a *Adapter) onSessionRequest(inst *instance, ev Event, log zerolog.Logger) {
	if ev.PeerMeta != nil {
		a.opts.Sessions.SetMetadata(inst.uri, ev.PeerMeta)
	}
	ctx := context.WithoutCancel(a.ctx)
	if err := inst.client.ApproveSession(ctx, []string{a.opts.MechAddress}, a.opts.ChainID); err != nil {
		log.Error().Err(err).Msg("Failed to approve legacy session")
		a.finish(inst, "approve failed")
		return
	}
	inst.setState(StateActive)
	log.Info().Msg("Legacy session approved")
}

// onCallRequest answers req exactly once, whatever the handler does.
func (a *Adapter) onCallRequest(inst *instance, ev Event, log zerolog.Logger) {
	req := ev.Request
	if req == nil {
		log.Error().Msg("call_request without payload")
		return
	}
	ctx := context.WithoutCancel(a.ctx)

	var result any
	err := ev.Err
	if err == nil {
		result, err = a.handle(ctx, inst, req)
	}
	if err == nil {
		var resp message.Response
		resp, err = message.NewResult(req.ID, result)
		if err == nil {
			if err := inst.client.ApproveRequest(ctx, req.ID, resp.Result); err != nil {
				log.Error().Err(err).Int64("request_id", req.ID).Msg("Failed to send legacy result")
			}
			return
		}
	}
	if err := inst.client.RejectRequest(ctx, req.ID, message.ErrorObject(err)); err != nil {
		log.Error().Err(err).Int64("request_id", req.ID).Msg("Failed to send legacy error")
	}
}

func (a *Adapter) handle(ctx context.Context, inst *instance, req *message.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, message.NewError(message.CodeInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return a.opts.Handler(ctx, session.NewLegacy(inst.uri), req)
}

// finish moves inst to Disconnected and removes exactly its own session, once.
func (a *Adapter) finish(inst *instance, reason string) {
	inst.finished.Do(func() {
		inst.setState(StateDisconnected)
		a.dropInstance(inst)

		ctx := context.WithoutCancel(a.ctx)
		if _, err := a.opts.Sessions.Remove(ctx, inst.uri); err != nil {
			a.log.Error().Err(err).Str("uri", inst.uri).Msg("Failed to persist session removal")
		}
		a.opts.Sessions.SetMetadata(inst.uri, nil)
		if inst.client != nil {
			inst.client.Close()
		}
		a.log.Info().Str("uri", inst.uri).Str("reason", reason).Msg("Legacy session ended")
	})
}

// dropInstance forgets inst if it is still the live instance for its URI.
func (a *Adapter) dropInstance(inst *instance) {
	a.mu.Lock()
	if a.instances[inst.uri] == inst {
		delete(a.instances, inst.uri)
	}
	a.mu.Unlock()
}
