package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig configures the worker agent binary.
type AgentConfig struct {
	OrchestratorURL   string // WebSocket endpoint, ws://host:port/worker
	APIType           string
	Token             string
	LocalAPIURL       string // the co-located scraper's HTTP API
	HeartbeatInterval time.Duration
	HealthWait        time.Duration // how long to wait for the scraper to come up
	ReceiverPort      int           // local progress receiver, 0 disables
	LogLevel          string
}

// LoadAgent reads agent configuration from agent.yaml and AGENT_* env vars.
func LoadAgent() (*AgentConfig, error) {
	v := viper.New()
	v.SetConfigName("agent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/orchestrator")

	v.SetDefault("orchestratorurl", "ws://localhost:8010/worker")
	v.SetDefault("apitype", "crunchbase")
	v.SetDefault("token", "")
	v.SetDefault("localapiurl", "http://localhost:5000")
	v.SetDefault("heartbeatinterval", 10*time.Second)
	v.SetDefault("healthwait", 2*time.Minute)
	v.SetDefault("receiverport", 8766)
	v.SetDefault("loglevel", "info")

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
