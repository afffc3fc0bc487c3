package message

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	raw := `{"id":1680000000000123,"jsonrpc":"2.0","method":"eth_sendTransaction","params":[{"to":"0x1","data":"0x"}]}`

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("Failed to unmarshal request: %v", err)
	}
	if req.ID != 1680000000000123 {
		t.Errorf("ID mismatch: got %d", req.ID)
	}
	if req.Method != "eth_sendTransaction" {
		t.Errorf("Method mismatch: got %s", req.Method)
	}
	if len(req.Params) != 1 || string(req.Params[0]) != `{"to":"0x1","data":"0x"}` {
		t.Errorf("Params mismatch: got %s", req.Params)
	}
}

func TestDecodeParamsShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`{"id":1,"method":"eth_chainId"}`, 0},
		{`{"id":1,"method":"eth_chainId","params":null}`, 0},
		{`{"id":1,"method":"eth_getBalance","params":["0x1","latest"]}`, 2},
		{`{"id":1,"method":"wallet_x","params":{"a":1}}`, 1},
	}
	for _, tc := range cases {
		var req Request
		if err := json.Unmarshal([]byte(tc.raw), &req); err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if len(req.Params) != tc.want {
			t.Errorf("%s: expect %d params, got %d", tc.raw, tc.want, len(req.Params))
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(`{"id":1,"method":"m","params":"x"}`), &req); err == nil {
		t.Error("expect error for scalar params")
	}
}

func TestEncodeEmptyParams(t *testing.T) {
	data, err := json.Marshal(Request{ID: 2, Method: "eth_chainId"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":2,"method":"eth_chainId","params":[]}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}

func TestResultEnvelope(t *testing.T) {
	resp, err := NewResult(7, "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(resp)
	if string(data) != `{"id":7,"jsonrpc":"2.0","result":"0xabc"}` {
		t.Fatalf("unexpected envelope: %s", data)
	}

	resp, err = NewResult(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ = json.Marshal(resp)
	if string(data) != `{"id":8,"jsonrpc":"2.0","result":null}` {
		t.Fatalf("nil result must encode as null: %s", data)
	}

	resp, _ = NewResult(9, json.RawMessage(`{"a":1}`))
	if string(resp.Result) != `{"a":1}` {
		t.Fatalf("raw result must pass through: %s", resp.Result)
	}
}

func TestErrorEnvelope(t *testing.T) {
	resp := NewErrorResponse(3, NewError(-32000, "insufficient funds"))
	data, _ := json.Marshal(resp)
	if string(data) != `{"id":3,"jsonrpc":"2.0","error":{"code":-32000,"message":"insufficient funds"}}` {
		t.Fatalf("unexpected envelope: %s", data)
	}

	resp = NewErrorResponse(4, errors.New("signer not available"))
	if resp.Error.Code != CodeServerError || resp.Error.Message != "signer not available" {
		t.Fatalf("generic error mismatch: %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Fatal("error envelope must not carry a result")
	}
}

func TestInvalidParamsUnwraps(t *testing.T) {
	cause := errors.New("missing field: data")
	err := InvalidParams(cause)
	if !errors.Is(err, cause) {
		t.Fatal("InvalidParams must unwrap to its cause")
	}
	if err.Code != CodeInvalidParams {
		t.Fatalf("code mismatch: %d", err.Code)
	}
	obj := ErrorObject(err)
	if obj.Code != CodeInvalidParams || obj.Message != cause.Error() {
		t.Fatalf("error object mismatch: %+v", obj)
	}
}
