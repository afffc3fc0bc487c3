package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSessionJSONShape(t *testing.T) {
	cases := []struct {
		s    Session
		want string
	}{
		{NewLegacy("wc:abc@1?key=y"), `{"uri":"wc:abc@1?key=y","legacy":true}`},
		{NewModern("7f6e"), `{"topic":"7f6e"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.s)
		if err != nil {
			t.Fatalf("marshal %v: %v", tc.s, err)
		}
		if string(data) != tc.want {
			t.Errorf("marshal %v: got %s, want %s", tc.s, data, tc.want)
		}

		var back Session
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != tc.s {
			t.Errorf("unmarshal %s: got %v, want %v", data, back, tc.s)
		}
	}
}

func TestSessionUnknownGeneration(t *testing.T) {
	if _, err := json.Marshal(Session{ID: "x"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expect ErrUnknownKind on marshal, got %v", err)
	}

	var s Session
	for _, raw := range []string{`{}`, `{"uri":"wc:a@1"}`, `{"topic":"t","legacy":true}`} {
		if err := json.Unmarshal([]byte(raw), &s); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("unmarshal %s: expect ErrUnknownKind, got %v", raw, err)
		}
	}
}

func TestWithMetadataJSON(t *testing.T) {
	s := WithMetadata{
		Session:  NewModern("t1"),
		Metadata: &Metadata{Name: "Uniswap", URL: "https://app.uniswap.org", Icons: []string{"i.png"}},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"topic":"t1","metadata":{"name":"Uniswap","description":"","url":"https://app.uniswap.org","icons":["i.png"]}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestMetadataClone(t *testing.T) {
	var nilMeta *Metadata
	if nilMeta.Clone() != nil {
		t.Fatal("clone of nil must be nil")
	}
	m := &Metadata{Name: "a", Icons: []string{"x"}}
	c := m.Clone()
	c.Icons[0] = "y"
	if m.Icons[0] != "x" {
		t.Fatal("clone shares icon slice")
	}
}

func TestContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a session")
	}
	ctx := NewContext(context.Background(), NewLegacy("wc:a@1"))
	s, ok := FromContext(ctx)
	if !ok || s.ID != "wc:a@1" || !s.IsLegacy() {
		t.Fatalf("unexpected session from context: %v %v", s, ok)
	}
}
