package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"

	"github.com/isabella232/mech/legacy"
	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// legacyClient is one generation-1 session hosted by the sidecar.
type legacyClient struct {
	link   *Link
	uri    string
	events *queue[legacy.Event]
}

func newLegacyClient(l *Link, uri string) *legacyClient {
	return &legacyClient{link: l, uri: uri, events: newQueue[legacy.Event]()}
}

type peerMetaPayload struct {
	PeerMeta *session.Metadata `json:"peerMeta"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (c *legacyClient) deliver(kind legacy.EventKind, payload json.RawMessage) {
	ev := legacy.Event{Kind: kind}
	switch kind {
	case legacy.EventSessionRequest, legacy.EventConnect:
		var p peerMetaPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				c.link.log.Warn().Err(err).Str("uri", c.uri).Msg("Malformed peer metadata")
			}
		}
		ev.PeerMeta = p.PeerMeta
	case legacy.EventCallRequest:
		var req message.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			id, ok := recoverID(gjson.GetBytes(payload, "id"))
			if !ok {
				c.link.log.Warn().Err(err).Str("uri", c.uri).Msg("Dropping call_request without usable id")
				return
			}
			c.link.log.Warn().Err(err).Str("uri", c.uri).Int64("request_id", id).Msg("Malformed call_request")
			req = message.Request{JSONRPC: message.Version, ID: id, Method: gjson.GetBytes(payload, "method").String()}
			ev.Err = malformedRequest(err)
		}
		ev.Request = &req
	case legacy.EventError:
		var p errorPayload
		_ = json.Unmarshal(payload, &p)
		if p.Message == "" {
			p.Message = "legacy session error"
		}
		ev.Err = errors.New(p.Message)
	case legacy.EventDisconnect:
	default:
		c.link.log.Warn().Str("event", string(kind)).Msg("Ignoring unknown legacy event")
		return
	}
	c.events.push(ev)
}

func (c *legacyClient) Events() <-chan legacy.Event { return c.events.out }

func (c *legacyClient) ApproveSession(ctx context.Context, accounts []string, chainID uint64) error {
	_, err := c.link.call(ctx, MethodLegacyApproveSession, c.uri, map[string]any{
		"accounts": accounts,
		"chainId":  chainID,
	})
	return err
}

func (c *legacyClient) ApproveRequest(ctx context.Context, id int64, result json.RawMessage) error {
	_, err := c.link.call(ctx, MethodLegacyApproveRequest, c.uri, map[string]any{
		"id":     id,
		"result": result,
	})
	return err
}

func (c *legacyClient) RejectRequest(ctx context.Context, id int64, rpcErr *message.JSONRPCError) error {
	_, err := c.link.call(ctx, MethodLegacyRejectRequest, c.uri, map[string]any{
		"id":    id,
		"error": rpcErr,
	})
	return err
}

func (c *legacyClient) KillSession(ctx context.Context) error {
	_, err := c.link.call(ctx, MethodLegacyKillSession, c.uri, nil)
	return err
}

// Close detaches the client and releases the sidecar's connector. Events
// still queued are discarded.
func (c *legacyClient) Close() error {
	c.link.detachLegacy(c.uri, c)
	c.events.drop()

	select {
	case <-c.link.done:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := c.link.call(ctx, MethodLegacyClose, c.uri, nil)
	return err
}
