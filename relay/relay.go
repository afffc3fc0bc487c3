// Package relay links the bridge to an out-of-process WalletConnect SDK sidecar
// over one websocket connection.
//
// Commands are multiplexed: every command gets a sequence id, and a single
// receive loop routes replies back to the waiting caller and events to the
// client they belong to.
//
//	Legacy(uri-A) ──cmd(seq=1)──┐
//	Legacy(uri-B) ──cmd(seq=2)──┼──→ websocket ──→ sidecar
//	Modern        ──cmd(seq=3)──┘
//
//	recvLoop: ←── reply(seq=2)              → pending[2] → caller wakes up
//	          ←── event(legacy.*, uri-A)    → legacy client A events
//	          ←── event(modern.*)           → modern client events
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/legacy"
	"github.com/isabella232/mech/modern"
	"github.com/isabella232/mech/session"
)

const (
	DefaultPingInterval = 30 * time.Second
	readLimit           = 1 << 20
	closeTimeout        = 5 * time.Second
)

var (
	ErrLinkClosed      = errors.New("relay link closed")
	ErrAlreadyAttached = errors.New("session already attached to link")
)

type Options struct {
	URL          string
	ProjectID    string
	Metadata     session.Metadata // announced to peers by the modern client
	PingInterval time.Duration
	Log          zerolog.Logger
}

// Link is one multiplexed connection to the sidecar.
type Link struct {
	conn     *websocket.Conn
	codec    codec.Codec
	clientID string
	metadata session.Metadata
	log      zerolog.Logger

	seq     atomic.Uint64
	pending sync.Map // map[uint64]chan *Frame, a nil frame means the link is gone

	mu     sync.Mutex
	legacy map[string]*legacyClient
	modern *modernClient

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// Dial connects to the sidecar and introduces this bridge instance.
func Dial(ctx context.Context, opts Options) (*Link, error) {
	header := http.Header{}
	if opts.ProjectID != "" {
		header.Set("X-Project-Id", opts.ProjectID)
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", opts.URL, err)
	}
	conn.SetReadLimit(readLimit)

	l := &Link{
		conn:     conn,
		codec:    codec.GetCodec(codec.CodecTypeJSON),
		clientID: uuid.NewString(),
		metadata: opts.Metadata,
		legacy:   make(map[string]*legacyClient),
		done:     make(chan struct{}),
	}
	l.log = opts.Log.With().Str("component", "relay").Str("client_id", l.clientID).Logger()

	go l.recvLoop()

	hello := map[string]string{"clientId": l.clientID, "projectId": opts.ProjectID}
	if _, err := l.call(ctx, MethodHello, "", hello); err != nil {
		l.Close()
		return nil, fmt.Errorf("relay hello: %w", err)
	}

	interval := opts.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	go l.heartbeatLoop(interval)

	l.log.Info().Str("url", opts.URL).Msg("Relay link established")
	return l, nil
}

// ClientID identifies this link to the sidecar.
func (l *Link) ClientID() string { return l.clientID }

// Done is closed once the connection is gone.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports why the link closed, or nil while it is open.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Link) Close() error {
	err := l.conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
	<-l.done
	return err
}

// Legacy opens a generation-1 client for uri. Events for the session are
// routed to it from the moment it is registered.
func (l *Link) Legacy(ctx context.Context, uri string) (legacy.Client, error) {
	c := newLegacyClient(l, uri)

	l.mu.Lock()
	if _, ok := l.legacy[uri]; ok {
		l.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	l.legacy[uri] = c
	l.mu.Unlock()

	if _, err := l.call(ctx, MethodLegacyConnect, uri, map[string]string{"uri": uri}); err != nil {
		l.detachLegacy(uri, c)
		c.events.drop()
		return nil, err
	}
	return c, nil
}

// Dialer adapts Legacy to the legacy adapter's dialer signature.
func (l *Link) Dialer() legacy.Dialer {
	return l.Legacy
}

// Modern initializes the shared generation-2 client. It may only be called once per link.
func (l *Link) Modern(ctx context.Context) (modern.Client, error) {
	c := newModernClient(l)

	l.mu.Lock()
	if l.modern != nil {
		l.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	l.modern = c
	l.mu.Unlock()

	if _, err := l.call(ctx, MethodModernInit, "", map[string]any{"metadata": l.metadata}); err != nil {
		l.mu.Lock()
		l.modern = nil
		l.mu.Unlock()
		c.events.drop()
		return nil, err
	}
	return c, nil
}

func (l *Link) detachLegacy(uri string, c *legacyClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.legacy[uri] == c {
		delete(l.legacy, uri)
	}
}

// call sends one command and waits for its reply. A coded sidecar error is
// returned as *message.JSONRPCError.
func (l *Link) call(ctx context.Context, method, sess string, params any) (json.RawMessage, error) {
	select {
	case <-l.done:
		return nil, l.closedErr()
	default:
	}

	f := Frame{Seq: l.seq.Add(1), Method: method, Session: sess}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		f.Params = raw
	}
	data, err := l.codec.Encode(&f)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast reply is never missed.
	ch := make(chan *Frame, 1)
	l.pending.Store(f.Seq, ch)

	if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
		l.pending.Delete(f.Seq)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case reply := <-ch:
		if reply == nil {
			return nil, l.closedErr()
		}
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		l.pending.Delete(f.Seq)
		return nil, ctx.Err()
	case <-l.done:
		l.pending.Delete(f.Seq)
		return nil, l.err
	}
}

func (l *Link) recvLoop() {
	for {
		_, data, err := l.conn.Read(context.Background())
		if err != nil {
			l.shutdown(err)
			return
		}

		var f Frame
		if err := l.codec.Decode(data, &f); err != nil {
			l.log.Warn().Err(err).Msg("Dropping malformed relay frame")
			continue
		}

		if f.Event != "" {
			l.route(&f)
			continue
		}
		if ch, ok := l.pending.LoadAndDelete(f.Seq); ok {
			ch.(chan *Frame) <- &f
		}
	}
}

func (l *Link) route(f *Frame) {
	prefix, kind, _ := strings.Cut(f.Event, ".")
	switch prefix {
	case prefixLegacy:
		l.mu.Lock()
		c := l.legacy[f.Session]
		l.mu.Unlock()
		if c == nil {
			l.log.Debug().Str("event", f.Event).Str("session", f.Session).Msg("Event for unknown legacy session")
			return
		}
		c.deliver(legacy.EventKind(kind), f.Payload)
	case prefixModern:
		l.mu.Lock()
		c := l.modern
		l.mu.Unlock()
		if c == nil {
			l.log.Debug().Str("event", f.Event).Msg("Modern event before init")
			return
		}
		c.deliver(modern.EventKind(kind), f.Payload)
	default:
		l.log.Warn().Str("event", f.Event).Msg("Ignoring unknown relay event")
	}
}

// shutdown fails every pending command and closes every client's event stream.
func (l *Link) shutdown(cause error) {
	l.errOnce.Do(func() {
		if websocket.CloseStatus(cause) == websocket.StatusNormalClosure {
			l.err = ErrLinkClosed
		} else {
			l.err = fmt.Errorf("%w: %v", ErrLinkClosed, cause)
			l.log.Warn().Err(cause).Msg("Relay link lost")
		}
		close(l.done)
	})

	l.pending.Range(func(key, value any) bool {
		value.(chan *Frame) <- nil
		return true
	})
	l.pending.Clear()

	l.mu.Lock()
	legacyClients := l.legacy
	l.legacy = make(map[string]*legacyClient)
	mc := l.modern
	l.mu.Unlock()

	for _, c := range legacyClients {
		c.events.close()
	}
	if mc != nil {
		mc.events.close()
	}
}

func (l *Link) closedErr() error {
	<-l.done
	return l.err
}

// heartbeatLoop pings the sidecar; a missed pong tears the link down.
func (l *Link) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := l.conn.Ping(ctx)
			cancel()
			if err != nil {
				l.log.Warn().Err(err).Msg("Relay ping failed")
				l.conn.CloseNow()
				return
			}
		}
	}
}
