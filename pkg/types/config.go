// Package types provides configuration types for the adaptive parameter backend.
package types

import "time"

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// SymbolBinding ties a traded symbol to the strategy whose parameters it drives
type SymbolBinding struct {
	Symbol     string `json:"symbol" mapstructure:"symbol"`
	StrategyID string `json:"strategyId" mapstructure:"strategy_id"`
}
