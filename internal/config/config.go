package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "STREAMLEDGER"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "streamledger.db"
	defaultLedgerPath        = "streamledger-chain"
	defaultBlockInterval     = 10 * time.Minute
	defaultLogLevel          = "info"
	defaultTokenIssuer       = "streamledger"
	defaultTokenAudience     = "streamledger-api"
	defaultTokenTTLMinutes   = 60
	defaultGenesisFee        = 5
	defaultRequestsPerSecond = 50.0
	defaultRateLimitBurst    = 100
	maxGenesisFee            = 100
	keyHTTPAddress           = "http.address"
	keyDatabasePath          = "database.path"
	keyLedgerPath            = "ledger.path"
	keyBlockInterval         = "ledger.block_interval"
	keyLogLevel              = "log.level"
	keySigningSecret         = "auth.signing_secret"
	keyTokenIssuer           = "auth.issuer"
	keyTokenAudience         = "auth.audience"
	keyTokenTTLMinutes       = "auth.token_ttl_minutes"
	keyGenesisOwner          = "platform.genesis_owner"
	keyGenesisFee            = "platform.genesis_fee"
	keyDiagnosticsEnabled    = "diagnostics.enabled"
	keyRateLimitRequestsPerS = "ratelimit.requests_per_second"
	keyRateLimitBurst        = "ratelimit.burst"
)

// AppConfig captures runtime configuration for the ledger node.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LedgerPath         string
	BlockInterval      time.Duration
	LogLevel           string
	SigningSecret      string
	TokenIssuer        string
	TokenAudience      string
	TokenTTL           time.Duration
	GenesisOwner       string
	GenesisFee         uint64
	DiagnosticsEnabled bool
	RequestsPerSecond  float64
	RateLimitBurst     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyLedgerPath, defaultLedgerPath)
	configViper.SetDefault(keyBlockInterval, defaultBlockInterval)
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyTokenIssuer, defaultTokenIssuer)
	configViper.SetDefault(keyTokenAudience, defaultTokenAudience)
	configViper.SetDefault(keyTokenTTLMinutes, defaultTokenTTLMinutes)
	configViper.SetDefault(keyGenesisFee, defaultGenesisFee)
	configViper.SetDefault(keyDiagnosticsEnabled, false)
	configViper.SetDefault(keyRateLimitRequestsPerS, defaultRequestsPerSecond)
	configViper.SetDefault(keyRateLimitBurst, defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString(keyHTTPAddress),
		DatabasePath:       configViper.GetString(keyDatabasePath),
		LedgerPath:         configViper.GetString(keyLedgerPath),
		BlockInterval:      configViper.GetDuration(keyBlockInterval),
		LogLevel:           configViper.GetString(keyLogLevel),
		SigningSecret:      configViper.GetString(keySigningSecret),
		TokenIssuer:        configViper.GetString(keyTokenIssuer),
		TokenAudience:      configViper.GetString(keyTokenAudience),
		TokenTTL:           time.Duration(configViper.GetInt(keyTokenTTLMinutes)) * time.Minute,
		GenesisOwner:       strings.TrimSpace(configViper.GetString(keyGenesisOwner)),
		GenesisFee:         configViper.GetUint64(keyGenesisFee),
		DiagnosticsEnabled: configViper.GetBool(keyDiagnosticsEnabled),
		RequestsPerSecond:  configViper.GetFloat64(keyRateLimitRequestsPerS),
		RateLimitBurst:     configViper.GetInt(keyRateLimitBurst),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("%s is required", keySigningSecret)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%s is required", keyDatabasePath)
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return fmt.Errorf("%s is required", keyLedgerPath)
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("%s must be positive", keyBlockInterval)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", keyTokenTTLMinutes)
	}
	if c.GenesisOwner == "" {
		return fmt.Errorf("%s is required", keyGenesisOwner)
	}
	if c.GenesisFee > maxGenesisFee {
		return fmt.Errorf("%s must not exceed %d", keyGenesisFee, maxGenesisFee)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", keyRateLimitRequestsPerS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("%s must be positive", keyRateLimitBurst)
	}
	return nil
}
