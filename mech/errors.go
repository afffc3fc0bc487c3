package mech

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/isabella232/mech/message"
)

// bodyCarrier is implemented by transport errors that keep the raw response body.
type bodyCarrier interface {
	Body() string
}

// MapError recovers a coded JSON-RPC error from a transport failure whose body
// carries {"error":{"code":..,"message":..}}. Any other error is returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *message.JSONRPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	var carrier bodyCarrier
	if !errors.As(err, &carrier) {
		return err
	}

	body := carrier.Body()
	if !gjson.Valid(body) {
		return err
	}
	code := gjson.Get(body, "error.code")
	if code.Type != gjson.Number || code.Int() == 0 {
		return err
	}
	return message.NewError(int(code.Int()), gjson.Get(body, "error.message").String())
}
