// Package dispatch routes a peer request, whichever protocol generation it
// arrived through, to the signing authority.
//
//	eth_sendTransaction ──► parse ──► mech.Wrap ──► SendTransaction ──► hash
//	eth_signTransaction ──► parse ──► mech.Wrap ──► SignTransaction ──► signed tx
//	anything else       ─────────────────────────► Call (verbatim)  ──► result
//
// There is no method allowlist; unknown methods get whatever the authority answers.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/mech"
	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/middleware"
	"github.com/isabella232/mech/session"
	"github.com/isabella232/mech/signer"
)

const (
	MethodSendTransaction = "eth_sendTransaction"
	MethodSignTransaction = "eth_signTransaction"
)

// WrappedMethods submit or sign through the mech and must never be retried.
var WrappedMethods = []string{MethodSendTransaction, MethodSignTransaction}

type Dispatcher struct {
	mechAddress string
	authority   signer.Authority
	log         zerolog.Logger
}

func New(mechAddress string, authority signer.Authority, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		mechAddress: mechAddress,
		authority:   authority,
		log:         log.With().Str("component", "dispatch").Logger(),
	}
}

// Handle answers one request. It returns either a result or an error, never both.
func (d *Dispatcher) Handle(ctx context.Context, s session.Session, req *message.Request) (any, error) {
	if a, ok := d.authority.(signer.Availability); ok && !a.Available() {
		return nil, signer.ErrSignerUnavailable
	}
	ctx = session.NewContext(ctx, s)

	switch req.Method {
	case MethodSendTransaction:
		tx, err := d.wrap(req.Params)
		if err != nil {
			return nil, err
		}
		hash, err := d.authority.SendTransaction(ctx, tx)
		if err != nil {
			return nil, mech.MapError(err)
		}
		d.log.Info().Stringer("session", s).Str("hash", hash).Msg("Transaction submitted through mech")
		return hash, nil

	case MethodSignTransaction:
		tx, err := d.wrap(req.Params)
		if err != nil {
			return nil, err
		}
		signed, err := d.authority.SignTransaction(ctx, tx)
		if err != nil {
			return nil, mech.MapError(err)
		}
		return signed, nil

	default:
		result, err := d.authority.Call(ctx, req.Method, req.Params)
		if err != nil {
			return nil, mech.MapError(err)
		}
		return json.RawMessage(result), nil
	}
}

// wrap rejects malformed fields before the authority sees anything.
func (d *Dispatcher) wrap(params []json.RawMessage) (mech.Envelope, error) {
	fields, err := mech.ParseTransactionFields(params)
	if err != nil {
		return mech.Envelope{}, message.InvalidParams(err)
	}
	tx, err := mech.Wrap(d.mechAddress, fields)
	if err != nil {
		return mech.Envelope{}, message.InvalidParams(err)
	}
	return tx, nil
}

// Pipeline wraps Handle in the given middlewares, outermost first.
func (d *Dispatcher) Pipeline(mws ...middleware.Middleware) middleware.HandlerFunc {
	return middleware.Chain(mws...)(d.Handle)
}
