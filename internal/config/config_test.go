package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/payments")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.ServerPort != "8086" {
		t.Fatalf("unexpected default port %q", cfg.ServerPort)
	}
	if cfg.EventsExchange != "lipabooks.events" {
		t.Fatalf("unexpected default exchange %q", cfg.EventsExchange)
	}
	if cfg.PlatformFeeRate != "0.02" {
		t.Fatalf("unexpected default fee rate %q", cfg.PlatformFeeRate)
	}
	if cfg.RetryMaxAttempts != 5 || cfg.RetryBatchSize != 50 {
		t.Fatalf("unexpected retry defaults: attempts=%d batch=%d", cfg.RetryMaxAttempts, cfg.RetryBatchSize)
	}
	if cfg.GracePeriod() != 72*time.Hour {
		t.Fatalf("unexpected grace period %s", cfg.GracePeriod())
	}
	if cfg.RetryBackoffBase() != 60*time.Second {
		t.Fatalf("unexpected backoff base %s", cfg.RetryBackoffBase())
	}
	if cfg.FeeRate().String() != "0.02" {
		t.Fatalf("unexpected fee rate decimal %s", cfg.FeeRate())
	}
	if sources := cfg.AllowedSources(); sources != nil {
		t.Fatalf("expected empty allow-list by default, got %v", sources)
	}
}

func TestLoadConfig_PortOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to override server port, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_RejectsInvalidFeeRate(t *testing.T) {
	viper.Reset()
	t.Setenv("PLATFORM_FEE_RATE", "two percent")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for non-decimal fee rate")
	}
}

func TestLoadConfig_RejectsBadRetryPolicy(t *testing.T) {
	viper.Reset()
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero max attempts")
	}

	viper.Reset()
	t.Setenv("RETRY_BACKOFF_BASE_SECONDS", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero backoff base")
	}
}

func TestAllowedSources_Parsing(t *testing.T) {
	cfg := Config{GatewayAllowedSources: " 196.201.214.200 ,196.201.214.206,, "}

	sources := cfg.AllowedSources()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %v", sources)
	}
	if sources[0] != "196.201.214.200" || sources[1] != "196.201.214.206" {
		t.Fatalf("unexpected sources %v", sources)
	}
}
