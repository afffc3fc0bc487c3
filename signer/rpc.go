package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/isabella232/mech/loadbalance"
	"github.com/isabella232/mech/mech"
	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// HTTPError captures a failed JSON-RPC exchange with an upstream endpoint:
// either a non-2xx status or a 200 response carrying an error object.
type HTTPError struct {
	StatusCode int
	RawBody    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("signer rpc error (%d): %s", e.StatusCode, e.RawBody)
}

// Body returns the raw response body for error mapping.
func (e *HTTPError) Body() string { return e.RawBody }

// RPCOptions configures an RPCSigner.
type RPCOptions struct {
	Endpoints []loadbalance.Endpoint // first endpoint receives all transactions
	Balancer  loadbalance.Balancer   // spreads generic calls; nil means round robin
	From      string                 // default sender when an envelope carries none
	Timeout   time.Duration
	Log       zerolog.Logger
}

// RPCSigner talks JSON-RPC over HTTP to a node (or signing proxy) that holds
// the owner key. Transactions always go to the primary endpoint so one writer
// orders nonces; read calls are balanced across all endpoints.
type RPCSigner struct {
	endpoints []loadbalance.Endpoint
	balancer  loadbalance.Balancer
	from      string
	http      *http.Client
	seq       atomic.Int64
	log       zerolog.Logger
}

func NewRPCSigner(opts RPCOptions) (*RPCSigner, error) {
	if len(opts.Endpoints) == 0 {
		return nil, loadbalance.ErrNoEndpoints
	}
	if opts.From != "" && !mech.IsAddress(opts.From) {
		return nil, fmt.Errorf("invalid sender address %q", opts.From)
	}
	balancer := opts.Balancer
	if balancer == nil {
		balancer = &loadbalance.RoundRobinBalancer{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCSigner{
		endpoints: opts.Endpoints,
		balancer:  balancer,
		from:      opts.From,
		http:      &http.Client{Timeout: timeout},
		log:       opts.Log.With().Str("component", "signer").Logger(),
	}, nil
}

func (s *RPCSigner) withSender(tx mech.Envelope) mech.Envelope {
	if tx.From == "" {
		tx.From = s.from
	}
	return tx
}

func (s *RPCSigner) SendTransaction(ctx context.Context, tx mech.Envelope) (string, error) {
	result, err := s.call(ctx, s.endpoints[0], "eth_sendTransaction", []any{s.withSender(tx)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("decode transaction hash: %w", err)
	}
	return hash, nil
}

// SignTransaction accepts both result shapes nodes return: the raw signed
// transaction string, or an object with a "raw" member.
func (s *RPCSigner) SignTransaction(ctx context.Context, tx mech.Envelope) (string, error) {
	result, err := s.call(ctx, s.endpoints[0], "eth_signTransaction", []any{s.withSender(tx)})
	if err != nil {
		return "", err
	}
	parsed := gjson.ParseBytes(result)
	switch {
	case parsed.Type == gjson.String:
		return parsed.String(), nil
	case parsed.IsObject() && parsed.Get("raw").Type == gjson.String:
		return parsed.Get("raw").String(), nil
	default:
		return "", fmt.Errorf("unexpected eth_signTransaction result: %s", result)
	}
}

// Call forwards method verbatim. Requests from the same session stick to one
// endpoint when the balancer is key-affine.
func (s *RPCSigner) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	key := ""
	if sess, ok := session.FromContext(ctx); ok {
		key = sess.ID
	}
	endpoint, err := s.balancer.Pick(key, s.endpoints)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = []json.RawMessage{}
	}
	return s.call(ctx, *endpoint, method, params)
}

type rpcRequest struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func (s *RPCSigner) call(ctx context.Context, endpoint loadbalance.Endpoint, method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		ID:      s.seq.Add(1),
		JSONRPC: message.Version,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("endpoint", endpoint.URL).Str("method", method).Msg("Signer request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("endpoint", endpoint.URL).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Signer request done")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, RawBody: strings.TrimSpace(string(body))}
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("signer returned invalid JSON")
	}
	if errObj := gjson.GetBytes(body, "error"); errObj.Exists() && errObj.Type != gjson.Null {
		return nil, &HTTPError{StatusCode: resp.StatusCode, RawBody: strings.TrimSpace(string(body))}
	}
	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(result.Raw), nil
}
