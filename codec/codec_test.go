package codec

import (
	"errors"
	"testing"

	"github.com/isabella232/mech/session"
)

func sampleSessions() []session.Session {
	return []session.Session{
		session.NewLegacy("wc:8a5e@1?key=41"),
		session.NewModern("7f6e504bfad60b485450578e05678ed3"),
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	data, err := jsonCodec.Encode(sampleSessions())
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	want := `[{"uri":"wc:8a5e@1?key=41","legacy":true},{"topic":"7f6e504bfad60b485450578e05678ed3"}]`
	if string(data) != want {
		t.Errorf("JSON shape mismatch:\n got %s\nwant %s", data, want)
	}

	var decoded []session.Session
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	assertSessions(t, decoded, sampleSessions())
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	data, err := binaryCodec.Encode(sampleSessions())
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decoded []session.Session
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}
	assertSessions(t, decoded, sampleSessions())
}

func TestBinaryCodecEmptyList(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	data, err := binaryCodec.Encode([]session.Session{})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 4 {
		t.Fatalf("expect 4 bytes, got %d", len(data))
	}
	decoded := []session.Session{session.NewModern("stale")}
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expect empty list, got %v", decoded)
	}
}

func TestBinaryCodecRejects(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	if _, err := binaryCodec.Encode("not a list"); err == nil {
		t.Error("expect error for wrong type")
	}
	if _, err := binaryCodec.Encode([]session.Session{{ID: "x"}}); !errors.Is(err, session.ErrUnknownKind) {
		t.Errorf("expect ErrUnknownKind, got %v", err)
	}

	data, _ := binaryCodec.Encode(sampleSessions())
	var decoded []session.Session
	if err := binaryCodec.Decode(data[:len(data)-3], &decoded); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expect ErrShortBuffer, got %v", err)
	}

	data[4] = 9 // corrupt first kind byte
	if err := binaryCodec.Decode(data, &decoded); !errors.Is(err, session.ErrUnknownKind) {
		t.Errorf("expect ErrUnknownKind, got %v", err)
	}
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]CodecType{"": CodecTypeJSON, "json": CodecTypeJSON, "binary": CodecTypeBinary} {
		got, err := ParseType(name)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v", name, got, err)
		}
		if GetCodec(got).Type() != want {
			t.Errorf("GetCodec(%v) returned wrong codec", want)
		}
	}
	if _, err := ParseType("protobuf"); err == nil {
		t.Error("expect error for unknown codec")
	}
}

func assertSessions(t *testing.T, got, want []session.Session) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expect %d sessions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("session %d mismatch: got %s, want %s", i, got[i], want[i])
		}
	}
}
