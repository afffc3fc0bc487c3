package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONFormatAndLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	logger := NewWriter(Config{Level: "warn", Format: "json"}, "mechbridge", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("session", "wc:abc@1").Msg("Shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"app":"mechbridge"`) || !strings.Contains(out, `"session":"wc:abc@1"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	var buf bytes.Buffer
	logger := NewWriter(Config{Level: "error", Format: "json"}, "mechbridge", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expect debug, got %s", logger.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"trace", zerolog.TraceLevel, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseLevel(%q) = %s, %v", tc.raw, got, ok)
		}
	}
}

func TestConsoleNoColor(t *testing.T) {
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	logger := NewWriter(Config{Format: "console"}, "mechbridge", &buf)
	logger.Info().Msg("Relay link established")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("color codes present: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Relay link established") {
		t.Fatalf("message missing: %q", buf.String())
	}
}
