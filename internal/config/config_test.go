package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}
	if cfg.Poller.Interval.Duration != 60*time.Second {
		t.Errorf("Poller.Interval = %v, want 60s", cfg.Poller.Interval.Duration)
	}
	if cfg.Poller.MaxTrackedMarkets != 50 {
		t.Errorf("MaxTrackedMarkets = %d, want 50", cfg.Poller.MaxTrackedMarkets)
	}
	if cfg.Detection.MinPublishScore != 30 {
		t.Errorf("MinPublishScore = %v, want 30", cfg.Detection.MinPublishScore)
	}
	if cfg.Detection.VolumeSensitivity != 2.0 {
		t.Errorf("VolumeSensitivity = %v, want 2.0", cfg.Detection.VolumeSensitivity)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Poller.MaxTrackedMarkets = 0
	cfg.Detection.ImbalanceThreshold = 1
	cfg.Detection.MinPublishScore = 120

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		"max_tracked_markets",
		"imbalance_threshold",
		"min_publish_score",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateArchiveRequiresCron(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "0 3 *"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "cron") {
		t.Errorf("Validate() = %v, want cron error", err)
	}
}

func TestValidateRedisLockTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.LockTTL.Duration = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "lock_ttl must be > 0") {
		t.Errorf("Validate() = %v, want lock_ttl error", err)
	}

	cfg.Redis.LockTTL.Duration = cfg.Poller.Interval.Duration
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "poll"

[poller]
interval = "30s"
max_tracked_markets = 25

[detection]
volume_spike_threshold = 3.0
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLYGRAPH_DETECTION_MIN_PUBLISH_SCORE", "45")
	t.Setenv("POLYGRAPH_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("POLYGRAPH_SERVER_API_KEY", "k3y")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "poll" {
		t.Errorf("Mode = %q, want poll", cfg.Mode)
	}
	if cfg.Poller.Interval.Duration != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Poller.Interval.Duration)
	}
	if cfg.Poller.MaxTrackedMarkets != 25 {
		t.Errorf("MaxTrackedMarkets = %d, want 25", cfg.Poller.MaxTrackedMarkets)
	}
	if cfg.Detection.VolumeSpikeThreshold != 3.0 {
		t.Errorf("VolumeSpikeThreshold = %v, want 3.0", cfg.Detection.VolumeSpikeThreshold)
	}
	// Untouched keys keep their defaults.
	if cfg.Detection.ImbalanceThreshold != 3.0 {
		t.Errorf("ImbalanceThreshold = %v, want default 3.0", cfg.Detection.ImbalanceThreshold)
	}
	if cfg.Detection.MinPublishScore != 45 {
		t.Errorf("MinPublishScore = %v, want 45 from env", cfg.Detection.MinPublishScore)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v, want two trimmed origins", cfg.Server.CORSOrigins)
	}
	if cfg.Server.APIKey != "k3y" {
		t.Errorf("APIKey = %q, want k3y from env", cfg.Server.APIKey)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "hunter2"
	cfg.Notify.TelegramToken = "token"
	cfg.Server.APIKey = "k3y"

	out := RedactedConfig(&cfg)
	if out.Supabase.Password != redacted || out.Notify.TelegramToken != redacted || out.Server.APIKey != redacted {
		t.Errorf("secrets not redacted: %+v", out.Supabase)
	}
	if out.Supabase.DSN != "" {
		t.Errorf("empty DSN = %q, want left empty", out.Supabase.DSN)
	}
	if cfg.Supabase.Password != "hunter2" {
		t.Error("RedactedConfig mutated the original")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("RedactedConfig shares the Events slice with the original")
	}
}
