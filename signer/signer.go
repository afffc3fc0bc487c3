// Package signer is the seam to the external signing authority that controls
// the mech's owner account.
//
// Exactly one Authority serves a mech at a time. Holder lets the process run
// before the authority is known (or after it is revoked): while unset, every
// call fails fast with ErrSignerUnavailable instead of queuing.
package signer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/isabella232/mech/mech"
)

var ErrSignerUnavailable = errors.New("signer not available")

// Authority produces hashes, signatures and generic chain RPC answers for one address.
type Authority interface {
	SendTransaction(ctx context.Context, tx mech.Envelope) (hash string, err error)
	SignTransaction(ctx context.Context, tx mech.Envelope) (signed string, err error)
	Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

// Availability is implemented by authorities that can be temporarily absent.
type Availability interface {
	Available() bool
}

type box struct{ Authority }

// Holder is an Authority whose backing implementation can be swapped at runtime.
type Holder struct {
	current atomic.Pointer[box]
}

// NewHolder returns a holder set to a, or an empty holder when a is nil.
func NewHolder(a Authority) *Holder {
	h := &Holder{}
	if a != nil {
		h.Set(a)
	}
	return h
}

func (h *Holder) Set(a Authority) {
	if a == nil {
		h.Clear()
		return
	}
	h.current.Store(&box{a})
}

func (h *Holder) Clear() { h.current.Store(nil) }

func (h *Holder) Available() bool { return h.current.Load() != nil }

func (h *Holder) get() (Authority, error) {
	b := h.current.Load()
	if b == nil {
		return nil, ErrSignerUnavailable
	}
	return b.Authority, nil
}

func (h *Holder) SendTransaction(ctx context.Context, tx mech.Envelope) (string, error) {
	a, err := h.get()
	if err != nil {
		return "", err
	}
	return a.SendTransaction(ctx, tx)
}

func (h *Holder) SignTransaction(ctx context.Context, tx mech.Envelope) (string, error) {
	a, err := h.get()
	if err != nil {
		return "", err
	}
	return a.SignTransaction(ctx, tx)
}

func (h *Holder) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	a, err := h.get()
	if err != nil {
		return nil, err
	}
	return a.Call(ctx, method, params)
}
