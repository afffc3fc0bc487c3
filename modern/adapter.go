package modern

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/middleware"
	"github.com/isabella232/mech/protocol"
	"github.com/isabella232/mech/session"
)

const DefaultQueueSize = 64

const approveTimeout = 30 * time.Second

var ErrNotModern = errors.New("not a modern pairing uri")

// Sessions is the part of the session registry the adapter reads and mutates.
type Sessions interface {
	Get(id string) (session.Session, bool)
	Sessions() []session.Session
	Add(ctx context.Context, s session.Session) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	SetMetadata(id string, md *session.Metadata)
}

type Options struct {
	Client    Client
	Sessions  Sessions
	Handler   middleware.HandlerFunc
	QueueSize int // pending requests per topic before new ones are refused
	Log       zerolog.Logger
}

// Adapter serves all modern topics. Requests on one topic are answered in
// delivery order by a dedicated worker; different topics run in parallel.
type Adapter struct {
	opts Options
	log  zerolog.Logger

	queues    map[string]chan *SessionRequest // owned by the Run goroutine
	workers   sync.WaitGroup
	approvals sync.WaitGroup
}

func New(opts Options) *Adapter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Adapter{
		opts:   opts,
		log:    opts.Log.With().Str("component", "modern").Logger(),
		queues: make(map[string]chan *SessionRequest),
	}
}

// Pair hands a generation-2 URI to the SDK. The session itself appears when
// the resulting proposal is approved.
func (a *Adapter) Pair(ctx context.Context, uri string) error {
	parsed, err := protocol.ParseURI(uri)
	if err != nil {
		return err
	}
	if !parsed.IsModern() {
		return fmt.Errorf("%w: version %d", ErrNotModern, parsed.Version)
	}
	if err := a.opts.Client.Pair(ctx, parsed.Raw); err != nil {
		a.log.Warn().Err(err).Str("topic", parsed.Topic).Msg("Modern pairing failed")
		return fmt.Errorf("pair: %w", err)
	}
	return nil
}

// Run consumes SDK events until ctx is done or the event stream closes, then
// waits for queued requests to be answered and pending approvals to finish.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.drain()

	events := a.opts.Client.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ev)
		}
	}
}

func (a *Adapter) handleEvent(ev Event) {
	switch ev.Kind {
	case EventSessionProposal:
		if ev.Proposal == nil {
			a.log.Error().Msg("session_proposal without payload")
			return
		}
		a.approvals.Add(1)
		go func() {
			defer a.approvals.Done()
			a.onProposal(ev.Proposal)
		}()
	case EventSessionRequest:
		if ev.Request == nil {
			a.log.Error().Msg("session_request without payload")
			return
		}
		a.enqueue(ev.Request)
	case EventAuthRequest:
		a.log.Info().RawJSON("payload", nonEmpty(ev.Payload)).Msg("Ignoring auth_request")
	case EventSessionDelete:
		a.onDelete(ev.Topic)
	default:
		a.log.Warn().Str("event", string(ev.Kind)).Msg("Ignoring unknown modern event")
	}
}

// onProposal approves every proposal with empty namespaces; unsupported
// methods are refused later by the signer. Called off the event loop.
func (a *Adapter) onProposal(p *Proposal) {
	ctx, cancel := context.WithTimeout(context.Background(), approveTimeout)
	defer cancel()
	log := a.log.With().Int64("proposal_id", p.ID).Str("peer", p.Proposer.Name).Logger()

	topic, err := a.opts.Client.ApproveSession(ctx, p.ID, map[string]Namespace{})
	if err != nil {
		log.Error().Err(err).Msg("Failed to approve session proposal")
		return
	}
	if _, err := a.opts.Sessions.Add(ctx, session.NewModern(topic)); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to record modern session")
	}
	md := p.Proposer
	a.opts.Sessions.SetMetadata(topic, &md)
	log.Info().Str("topic", topic).Msg("Modern session approved")
}

func (a *Adapter) onDelete(topic string) {
	if topic == "" {
		return
	}
	if _, err := a.opts.Sessions.Remove(context.Background(), topic); err != nil {
		a.log.Error().Err(err).Str("topic", topic).Msg("Failed to persist session removal")
	}
	if q, ok := a.queues[topic]; ok {
		delete(a.queues, topic)
		close(q)
	}
	a.log.Info().Str("topic", topic).Msg("Modern session deleted by peer")
}

func (a *Adapter) enqueue(req *SessionRequest) {
	q, ok := a.queues[req.Topic]
	if !ok {
		q = make(chan *SessionRequest, a.opts.QueueSize)
		a.queues[req.Topic] = q
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			for r := range q {
				a.serve(r)
			}
		}()
	}
	select {
	case q <- req:
	default:
		a.log.Warn().Str("topic", req.Topic).Int64("request_id", req.Request.ID).Msg("Request queue full")
		a.respond(context.Background(), req.Topic,
			message.NewErrorResponse(req.Request.ID, message.NewError(message.CodeLimitExceeded, "too many pending requests")))
	}
}

func (a *Adapter) drain() {
	for topic, q := range a.queues {
		delete(a.queues, topic)
		close(q)
	}
	a.workers.Wait()
	a.approvals.Wait()
}

// serve answers req exactly once.
func (a *Adapter) serve(req *SessionRequest) {
	ctx := context.Background()
	id := req.Request.ID
	responded := false
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("topic", req.Topic).Int64("request_id", id).Msg("Request handling panicked")
			if !responded {
				a.respond(ctx, req.Topic, message.NewErrorResponse(id,
					message.NewError(message.CodeInternalError, fmt.Sprintf("internal error: %v", r))))
			}
		}
	}()

	if req.Err != nil {
		responded = true
		a.respond(ctx, req.Topic, message.NewErrorResponse(id, req.Err))
		return
	}
	s, ok := a.resolve(ctx, req.Topic)
	if !ok {
		responded = true
		a.respond(ctx, req.Topic, message.NewErrorResponse(id,
			message.NewError(message.CodeInvalidRequest, "unknown session topic "+req.Topic)))
		return
	}

	result, err := a.opts.Handler(ctx, s, &req.Request)
	var resp message.Response
	if err == nil {
		resp, err = message.NewResult(id, result)
	}
	if err != nil {
		resp = message.NewErrorResponse(id, err)
	}
	responded = true
	a.respond(ctx, req.Topic, resp)
}

func (a *Adapter) respond(ctx context.Context, topic string, resp message.Response) {
	if err := a.opts.Client.RespondSessionRequest(ctx, topic, resp); err != nil {
		a.log.Error().Err(err).Str("topic", topic).Int64("request_id", resp.ID).Msg("Failed to send response")
	}
}

// resolve finds the session for topic, falling back to the SDK's own store for
// topics it restored that the registry has not seen.
func (a *Adapter) resolve(ctx context.Context, topic string) (session.Session, bool) {
	if s, ok := a.opts.Sessions.Get(topic); ok && s.IsModern() {
		return s, true
	}
	active, err := a.opts.Client.ActiveSessions(ctx)
	if err != nil {
		a.log.Warn().Err(err).Str("topic", topic).Msg("Failed to list active sessions")
		return session.Session{}, false
	}
	peer, ok := active[topic]
	if !ok {
		return session.Session{}, false
	}
	s := session.NewModern(topic)
	if _, err := a.opts.Sessions.Add(ctx, s); err != nil {
		a.log.Error().Err(err).Str("topic", topic).Msg("Failed to record modern session")
	}
	md := peer.Peer
	a.opts.Sessions.SetMetadata(topic, &md)
	return s, true
}

// Reconcile drops registry topics the SDK no longer considers active and
// returns how many were removed.
func (a *Adapter) Reconcile(ctx context.Context) (int, error) {
	active, err := a.opts.Client.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range a.opts.Sessions.Sessions() {
		if !s.IsModern() {
			continue
		}
		if _, ok := active[s.ID]; ok {
			continue
		}
		changed, err := a.opts.Sessions.Remove(ctx, s.ID)
		if err != nil {
			a.log.Error().Err(err).Str("topic", s.ID).Msg("Failed to persist session removal")
		}
		if changed {
			removed++
		}
	}
	if removed > 0 {
		a.log.Info().Int("removed", removed).Msg("Pruned expired modern sessions")
	}
	return removed, nil
}

func nonEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
