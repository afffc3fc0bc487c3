package mech

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// ExecSignature is the mech contract's execution entry point.
const ExecSignature = "exec(address,uint256,bytes,uint8,uint256)"

// OperationCall is the exec operation for a plain call (1 would be delegatecall).
const OperationCall = 0

// Envelope is the transaction handed to the signing authority.
type Envelope struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
	Gas   string `json:"gas,omitempty"` // empty lets the signer estimate
}

var execSelector = selector(ExecSignature)

func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// Wrap turns a transaction to an arbitrary contract into a call of the mech's
// exec entry point, so the mech is the on-chain sender. The result depends
// only on its inputs. To, Data and Value must be present; "0x" is empty data.
//
// The inner gas (if any) becomes exec's txGas limit; txGas 0 forwards all
// remaining gas. The outer gas is left for the signer to estimate because the
// inner limit does not cover the mech's own overhead.
func Wrap(mechAddress string, f TransactionFields) (Envelope, error) {
	if !IsAddress(mechAddress) {
		return Envelope{}, fmt.Errorf("%w: mech address %q", ErrInvalidField, mechAddress)
	}
	switch {
	case f.To == "":
		return Envelope{}, fmt.Errorf("%w: to", ErrMissingField)
	case f.Data == "":
		return Envelope{}, fmt.Errorf("%w: data", ErrMissingField)
	case f.Value == "":
		return Envelope{}, fmt.Errorf("%w: value", ErrMissingField)
	}
	if err := f.Validate(); err != nil {
		return Envelope{}, err
	}

	to, _ := hex.DecodeString(f.To[2:])
	value, _ := parseQuantity(f.Value)
	data, _ := decodeHexBytes(f.Data)
	txGas := new(big.Int)
	if f.Gas != "" {
		txGas, _ = parseQuantity(f.Gas)
	}

	// head: to | value | offset(data) | operation | txGas, tail: len(data) | data
	const headWords = 5
	paddedLen := (len(data) + 31) / 32 * 32
	buf := make([]byte, 0, 4+32*(headWords+1)+paddedLen)
	buf = append(buf, execSelector...)
	buf = append(buf, leftPad(to)...)
	buf = append(buf, word(value)...)
	buf = append(buf, word(big.NewInt(32*headWords))...)
	buf = append(buf, word(big.NewInt(OperationCall))...)
	buf = append(buf, word(txGas)...)
	buf = append(buf, word(big.NewInt(int64(len(data))))...)
	buf = append(buf, data...)
	buf = append(buf, make([]byte, paddedLen-len(data))...)

	return Envelope{
		From:  f.From,
		To:    mechAddress,
		Value: "0x0",
		Data:  "0x" + hex.EncodeToString(buf),
	}, nil
}

func word(n *big.Int) []byte {
	return n.FillBytes(make([]byte, 32))
}

func leftPad(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
