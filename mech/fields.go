// Package mech rewrites peer transactions into calls through the mech contract
// and normalizes signer failures into JSON-RPC errors.
package mech

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// TransactionFields is the canonical transaction shape accepted for wrapping.
// All fields are hex strings; From and Gas may be empty.
type TransactionFields struct {
	From  string
	To    string
	Value string
	Data  string
	Gas   string
}

type rawFields struct {
	From  *string `json:"from"`
	To    *string `json:"to"`
	Value *string `json:"value"`
	Data  *string `json:"data"`
	Input *string `json:"input"`
	Gas   *string `json:"gas"`
}

// ParseTransactionFields reads the first parameter of an eth_sendTransaction or
// eth_signTransaction call. Missing to or data fails; value defaults to 0x0.
func ParseTransactionFields(params []json.RawMessage) (TransactionFields, error) {
	if len(params) == 0 {
		return TransactionFields{}, fmt.Errorf("%w: transaction object", ErrMissingField)
	}
	var raw rawFields
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return TransactionFields{}, fmt.Errorf("%w: transaction object: %v", ErrInvalidField, err)
	}
	if raw.Data == nil {
		raw.Data = raw.Input
	}

	var f TransactionFields
	if raw.To == nil || *raw.To == "" {
		return f, fmt.Errorf("%w: to", ErrMissingField)
	}
	if raw.Data == nil {
		return f, fmt.Errorf("%w: data", ErrMissingField)
	}
	f.To = *raw.To
	f.Data = *raw.Data
	f.Value = "0x0"
	if raw.Value != nil && *raw.Value != "" {
		f.Value = *raw.Value
	}
	if raw.From != nil {
		f.From = *raw.From
	}
	if raw.Gas != nil {
		f.Gas = *raw.Gas
	}
	return f, f.Validate()
}

// Validate checks every field's encoding without touching the network.
func (f TransactionFields) Validate() error {
	if !IsAddress(f.To) {
		return fmt.Errorf("%w: to %q", ErrInvalidField, f.To)
	}
	if f.From != "" && !IsAddress(f.From) {
		return fmt.Errorf("%w: from %q", ErrInvalidField, f.From)
	}
	if _, err := decodeHexBytes(f.Data); err != nil {
		return fmt.Errorf("%w: data: %v", ErrInvalidField, err)
	}
	if _, err := parseQuantity(f.Value); err != nil {
		return fmt.Errorf("%w: value: %v", ErrInvalidField, err)
	}
	if f.Gas != "" {
		if _, err := parseQuantity(f.Gas); err != nil {
			return fmt.Errorf("%w: gas: %v", ErrInvalidField, err)
		}
	}
	return nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address. Checksum case is not verified.
func IsAddress(s string) bool {
	if len(s) != 42 || !has0x(s) {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func has0x(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

func decodeHexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if !has0x(s) {
		return nil, fmt.Errorf("missing 0x prefix")
	}
	return hex.DecodeString(s[2:])
}

// parseQuantity accepts 0x-prefixed hex or a decimal string.
func parseQuantity(s string) (*big.Int, error) {
	n := new(big.Int)
	var ok bool
	if has0x(s) {
		digits := s[2:]
		if digits == "" {
			return n, nil
		}
		_, ok = n.SetString(digits, 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("not a quantity: %q", s)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("quantity overflows uint256: %q", s)
	}
	return n, nil
}
