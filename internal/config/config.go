package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Keystore KeystoreConfig
	Approval ApprovalConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	ChainID int64  `mapstructure:"chain_id"`
}

type KeystoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type ApprovalConfig struct {
	IdleTimeoutMs      int64 `mapstructure:"idle_timeout_ms"`
	JanitorIntervalSec int64 `mapstructure:"janitor_interval_sec"`
	RetentionSec       int64 `mapstructure:"retention_sec"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("approval.idle_timeout_ms", 1300)
	v.SetDefault("approval.janitor_interval_sec", 300)
	v.SetDefault("approval.retention_sec", 86400)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                   "PORT",
		"redis.addr":                    "REDIS_ADDR",
		"redis.password":                "REDIS_PASSWORD",
		"chain.rpc_url":                 "RPC_URL",
		"chain.chain_id":                "CHAIN_ID",
		"keystore.dir":                  "KEYSTORE_DIR",
		"approval.idle_timeout_ms":      "APPROVAL_IDLE_TIMEOUT_MS",
		"approval.janitor_interval_sec": "APPROVAL_JANITOR_INTERVAL_SEC",
		"approval.retention_sec":        "APPROVAL_RETENTION_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Keystore.Dir, "KEYSTORE_DIR"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
