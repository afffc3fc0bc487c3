package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/registry"
)

const minimal = `
[bridge]
chain_id = 100
mech_address = "0x1111111111111111111111111111111111111111"

[[signer.endpoints]]
url = "http://127.0.0.1:8545"
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Bridge.ChainID != 100 {
		t.Errorf("chain id mismatch: %d", cfg.Bridge.ChainID)
	}
	if cfg.Signer.Strategy != "roundrobin" || cfg.SignerTimeout().Seconds() != 30 {
		t.Errorf("signer defaults not applied: %+v", cfg.Signer)
	}
	if cfg.Storage.Backend != registry.BackendMemory || cfg.Storage.EtcdPrefix != registry.DefaultEtcdPrefix {
		t.Errorf("storage defaults not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Format != "console" || cfg.API.Addr == "" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Logging, cfg.API)
	}
	if eps := cfg.SignerEndpoints(); len(eps) != 1 || eps[0].URL != "http://127.0.0.1:8545" {
		t.Errorf("unexpected endpoints %+v", eps)
	}
}

func TestParseFull(t *testing.T) {
	data := minimal + `
[metadata]
name = "Club"
icons = ["https://clubcard.global/icon.png"]

[storage]
backend = "sqlite"
codec = "binary"
sqlite_path = "/tmp/sessions.db"

[dispatch]
rate_per_second = 5.0
burst = 3

[modern]
reconcile = "@every 10m"
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	opts := cfg.StoreOptions()
	if opts.Backend != registry.BackendSQLite || opts.Codec != codec.CodecTypeBinary || opts.SQLitePath != "/tmp/sessions.db" {
		t.Fatalf("unexpected store options %+v", opts)
	}
	if md := cfg.SelfMetadata(); md.Name != "Club" || len(md.Icons) != 1 {
		t.Fatalf("unexpected metadata %+v", md)
	}
	if cfg.Dispatch.RatePerSecond != 5 || cfg.Dispatch.Burst != 3 {
		t.Fatalf("unexpected dispatch %+v", cfg.Dispatch)
	}
	if cfg.Modern.Reconcile != "@every 10m" {
		t.Fatalf("unexpected reconcile %q", cfg.Modern.Reconcile)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"missing chain", "[bridge]\nmech_address = \"0x1111111111111111111111111111111111111111\"\n[[signer.endpoints]]\nurl = \"http://x\"\n", "chain_id"},
		{"bad address", "[bridge]\nchain_id = 1\nmech_address = \"0x12\"\n[[signer.endpoints]]\nurl = \"http://x\"\n", "mech_address"},
		{"no endpoints", "[bridge]\nchain_id = 1\nmech_address = \"0x1111111111111111111111111111111111111111\"\n", "signer.endpoints"},
		{"bad strategy", minimal + "[signer]\nstrategy = \"random\"\n", "signer.strategy"},
		{"etcd without endpoints", minimal + "[storage]\nbackend = \"etcd\"\n", "etcd_endpoints"},
		{"bad codec", minimal + "[storage]\ncodec = \"xml\"\n", "storage.codec"},
		{"bad format", minimal + "[logging]\nformat = \"yaml\"\n", "logging.format"},
		{"unknown key", minimal + "[bridge2]\nx = 1\n", "unknown config keys"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.data))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expect error containing %q, got %v", tc.name, tc.want, err)
		}
	}

	_, err := Parse([]byte(minimal + "[storage]\nbackend = \"redis\"\n"))
	if !errors.Is(err, registry.ErrUnknownBackend) {
		t.Errorf("expect ErrUnknownBackend, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mechbridge.toml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expect error for missing file")
	}
}
