package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/modern"
)

// modernClient is the sidecar's shared generation-2 SDK instance.
type modernClient struct {
	link   *Link
	events *queue[modern.Event]
}

func newModernClient(l *Link) *modernClient {
	return &modernClient{link: l, events: newQueue[modern.Event]()}
}

func (c *modernClient) deliver(kind modern.EventKind, payload json.RawMessage) {
	ev := modern.Event{Kind: kind}
	var err error
	switch kind {
	case modern.EventSessionProposal:
		ev.Proposal = &modern.Proposal{}
		err = json.Unmarshal(payload, ev.Proposal)
	case modern.EventSessionRequest:
		ev.Request, err = decodeSessionRequest(payload)
	case modern.EventSessionDelete:
		ev.Topic = gjson.GetBytes(payload, "topic").String()
	case modern.EventAuthRequest:
		ev.Payload = payload
	default:
		c.link.log.Warn().Str("event", string(kind)).Msg("Ignoring unknown modern event")
		return
	}
	if err != nil {
		c.link.log.Warn().Err(err).Str("event", string(kind)).Msg("Dropping malformed modern event")
		return
	}
	c.events.push(ev)
}

// decodeSessionRequest decodes a session_request payload. When only the body
// is broken but topic and id are readable, the request is returned with Err
// set so the adapter still answers it.
func decodeSessionRequest(payload json.RawMessage) (*modern.SessionRequest, error) {
	if !gjson.GetBytes(payload, "request").IsObject() {
		return nil, errors.New("session_request without request object")
	}
	req := &modern.SessionRequest{}
	err := json.Unmarshal(payload, req)
	if err == nil {
		return req, nil
	}
	topic := gjson.GetBytes(payload, "topic")
	id, ok := recoverID(gjson.GetBytes(payload, "request.id"))
	if topic.Type != gjson.String || topic.Str == "" || !ok {
		return nil, err
	}
	return &modern.SessionRequest{
		Topic: topic.Str,
		Request: message.Request{
			JSONRPC: message.Version,
			ID:      id,
			Method:  gjson.GetBytes(payload, "request.method").String(),
		},
		Err: malformedRequest(err),
	}, nil
}

func (c *modernClient) Events() <-chan modern.Event { return c.events.out }

func (c *modernClient) Pair(ctx context.Context, uri string) error {
	_, err := c.link.call(ctx, MethodModernPair, "", map[string]string{"uri": uri})
	return err
}

func (c *modernClient) ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]modern.Namespace) (string, error) {
	res, err := c.link.call(ctx, MethodModernApproveSession, "", map[string]any{
		"id":         proposalID,
		"namespaces": namespaces,
	})
	if err != nil {
		return "", err
	}
	topic := gjson.GetBytes(res, "topic").String()
	if topic == "" {
		return "", fmt.Errorf("approve session %d: sidecar returned no topic", proposalID)
	}
	return topic, nil
}

func (c *modernClient) ActiveSessions(ctx context.Context) (map[string]modern.PeerSession, error) {
	res, err := c.link.call(ctx, MethodModernActiveSessions, "", nil)
	if err != nil {
		return nil, err
	}
	active := make(map[string]modern.PeerSession)
	if len(res) == 0 || gjson.ParseBytes(res).Type == gjson.Null {
		return active, nil
	}
	if err := json.Unmarshal(res, &active); err != nil {
		return nil, fmt.Errorf("decode active sessions: %w", err)
	}
	for topic, s := range active {
		if s.Topic == "" {
			s.Topic = topic
			active[topic] = s
		}
	}
	return active, nil
}

func (c *modernClient) RespondSessionRequest(ctx context.Context, topic string, resp message.Response) error {
	_, err := c.link.call(ctx, MethodModernRespond, topic, map[string]any{
		"topic":    topic,
		"response": resp,
	})
	return err
}
