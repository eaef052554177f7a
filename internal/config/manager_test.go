package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
discord:
  token: "abc"
  moderator_role_id: 42
store:
  path: "./data/guardian.db"
  busy_timeout: "5s"
logging:
  level: "DEBUG"
  console: true
guard:
  sweep_interval: "15m"
  detect_batch_size: 20
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "abc" || cfg.Discord.ModeratorRoleID != 42 {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Store.Path != "./data/guardian.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Guard.SweepInterval != "15m" || cfg.Guard.DetectBatchSize != 20 {
		t.Fatalf("guard = %+v", cfg.Guard)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"discord":{"token":"abc"},"store":{"path":"x.db"},"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""}},"guard":{}}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "abc" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
discord:
  token: "abc"
  no_such_field: true
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "10m", want: 10 * time.Minute},
		{raw: " 5s ", want: 5 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}
