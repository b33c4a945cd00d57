// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	// Realtime gateways, one per concern.
	ChatGatewayURL  string `mapstructure:"chat_gateway_url"`
	TradeGatewayURL string `mapstructure:"trade_gateway_url"`
	CoinGatewayURL  string `mapstructure:"coin_gateway_url"`

	// REST backend for paginated history.
	APIBaseURL string `mapstructure:"api_base_url"`

	// Chain access.
	RPCList    []string `mapstructure:"rpc_list"`
	PrivateKey string   `mapstructure:"private_key"`

	// Opaque credential attached to subscribe/publish actions.
	AuthToken string `mapstructure:"auth_token"`

	// Trading defaults.
	SlippageBps    int    `mapstructure:"slippage_bps"`
	PriorityFeeSol string `mapstructure:"priority_fee_sol"`
	ComputeUnits   uint32 `mapstructure:"compute_units"`

	// Reconnect tuning, milliseconds unless noted.
	ReconnectBaseMs    int `mapstructure:"reconnect_base_ms"`
	ReconnectCapMs     int `mapstructure:"reconnect_cap_ms"`
	FailureCeiling     int `mapstructure:"failure_ceiling"`
	CooldownSeconds    int `mapstructure:"cooldown_seconds"`
	SubscribeTimeoutMs int `mapstructure:"subscribe_timeout_ms"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultSlippageBps      = 100
	DefaultPriorityFee      = "default"
	DefaultComputeUnits     = 200_000
	DefaultReconnectBaseMs  = 500
	DefaultReconnectCapMs   = 10_000
	DefaultFailureCeiling   = 3
	DefaultCooldownSeconds  = 30
	DefaultSubscribeTimeout = 2_000
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"slippage_bps":         DefaultSlippageBps,
		"priority_fee_sol":     DefaultPriorityFee,
		"compute_units":        DefaultComputeUnits,
		"reconnect_base_ms":    DefaultReconnectBaseMs,
		"reconnect_cap_ms":     DefaultReconnectCapMs,
		"failure_ceiling":      DefaultFailureCeiling,
		"cooldown_seconds":     DefaultCooldownSeconds,
		"subscribe_timeout_ms": DefaultSubscribeTimeout,
		"log_file":             "pumpclient.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, gateway := range []string{cfg.ChatGatewayURL, cfg.TradeGatewayURL, cfg.CoinGatewayURL} {
		if gateway == "" {
			return errors.New("missing realtime gateway URL in configuration")
		}
		if err := validateURLWithCache(gateway, "ws"); err != nil {
			return errors.New("invalid gateway URL protocol")
		}
	}
	if cfg.APIBaseURL != "" {
		if err := validateURLWithCache(cfg.APIBaseURL, "http"); err != nil {
			return errors.New("invalid API base URL protocol")
		}
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return errors.New("slippage_bps must be within [0, 10000]")
	}
	if cfg.ReconnectBaseMs <= 0 {
		return errors.New("invalid reconnect_base_ms")
	}
	if cfg.ReconnectCapMs < cfg.ReconnectBaseMs {
		return errors.New("reconnect_cap_ms must be >= reconnect_base_ms")
	}
	if cfg.FailureCeiling <= 0 {
		return errors.New("invalid failure_ceiling")
	}
	if cfg.CooldownSeconds <= 0 {
		return errors.New("invalid cooldown_seconds")
	}
	if cfg.SubscribeTimeoutMs <= 0 {
		return errors.New("invalid subscribe_timeout_ms")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("PUMPCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("PRIVATE_KEY"); envKey != "" {
		cfg.PrivateKey = envKey
	}
	if envToken := v.GetString("AUTH_TOKEN"); envToken != "" {
		cfg.AuthToken = envToken
	}

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
