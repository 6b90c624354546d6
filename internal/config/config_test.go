package config

import (
	"strings"
	"testing"
	"time"
)

func validViper() map[string]any {
	return map[string]any{
		"auth.signing_secret":    "secret",
		"platform.genesis_owner": "platform-owner",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	for key, value := range validViper() {
		configViper.Set(key, value)
	}

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.BlockInterval != 10*time.Minute {
		t.Fatalf("unexpected block interval %s", cfg.BlockInterval)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.GenesisFee != 5 {
		t.Fatalf("unexpected genesis fee %d", cfg.GenesisFee)
	}
	if cfg.DiagnosticsEnabled {
		t.Fatalf("expected diagnostics to default to disabled")
	}
	if cfg.RequestsPerSecond != 50 || cfg.RateLimitBurst != 100 {
		t.Fatalf("unexpected rate limit %v/%d", cfg.RequestsPerSecond, cfg.RateLimitBurst)
	}
	if cfg.TokenIssuer != "streamledger" || cfg.TokenAudience != "streamledger-api" {
		t.Fatalf("unexpected token issuer/audience %s/%s", cfg.TokenIssuer, cfg.TokenAudience)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STREAMLEDGER_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("STREAMLEDGER_PLATFORM_GENESIS_OWNER", "env-owner")
	t.Setenv("STREAMLEDGER_LEDGER_BLOCK_INTERVAL", "2s")
	t.Setenv("STREAMLEDGER_DIAGNOSTICS_ENABLED", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "env-secret" || cfg.GenesisOwner != "env-owner" {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.BlockInterval != 2*time.Second {
		t.Fatalf("unexpected block interval %s", cfg.BlockInterval)
	}
	if !cfg.DiagnosticsEnabled {
		t.Fatalf("expected diagnostics to be enabled from env")
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]any
		message  string
	}{
		{name: "missing secret", override: map[string]any{"auth.signing_secret": " "}, message: "auth.signing_secret"},
		{name: "missing owner", override: map[string]any{"platform.genesis_owner": ""}, message: "platform.genesis_owner"},
		{name: "fee too high", override: map[string]any{"platform.genesis_fee": 101}, message: "platform.genesis_fee"},
		{name: "zero interval", override: map[string]any{"ledger.block_interval": "0s"}, message: "ledger.block_interval"},
		{name: "zero ttl", override: map[string]any{"auth.token_ttl_minutes": 0}, message: "auth.token_ttl_minutes"},
		{name: "zero burst", override: map[string]any{"ratelimit.burst": 0}, message: "ratelimit.burst"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range validViper() {
				configViper.Set(key, value)
			}
			for key, value := range testCase.override {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.message, err)
			}
		})
	}
}
