package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lisuiheng/onebot-go/logger"
	"github.com/lisuiheng/onebot-go/protocols/websocket"
)

const (
	ModeOutbound = "outbound"
	ModeReverse  = "reverse"
)

// Config 是守护进程配置结构（与 YAML 文件结构对应）
type Config struct {
	Mode       string           `mapstructure:"mode"`
	Connection websocket.Config `mapstructure:"connection"`
	Logging    logger.Config    `mapstructure:"logging"`
	Metrics    struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	d := websocket.DefaultConfig()
	v.SetDefault("mode", ModeOutbound)
	v.SetDefault("connection.host", d.Host)
	v.SetDefault("connection.port", d.Port)
	v.SetDefault("connection.path", d.Path)
	v.SetDefault("connection.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("connection.response_timeout", d.ResponseTimeout)
	v.SetDefault("connection.reconnect_interval", d.ReconnectInterval)
	v.SetDefault("connection.max_reconnect_attempts", d.MaxReconnectAttempts)
	v.SetDefault("connection.handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("connection.auth.ignore_empty_provided_token", d.Auth.IgnoreEmptyProvidedToken)
	v.SetDefault("connection.auth.ignore_empty_configured_token", d.Auth.IgnoreEmptyConfiguredToken)
	v.SetDefault("connection.auth.allow_non_prefixed_header", d.Auth.AllowNonPrefixedHeader)
	v.SetDefault("connection.auth.allow_token_when_not_required", d.Auth.AllowTokenWhenNotRequired)
	v.SetDefault("connection.auth.allow_different_token_if_absent_required", d.Auth.AllowDifferentTokenIfAbsentRequired)
	v.SetDefault("connection.auth.allow_different_token_if_both_present", d.Auth.AllowDifferentTokenIfBothPresent)
	v.SetDefault("connection.auth.allow_format_error_when_both_provided", d.Auth.AllowFormatErrorWhenBothProvided)
	v.SetDefault("connection.auth.allow_multiple_identical_tokens", d.Auth.AllowMultipleIdenticalTokens)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.outputs", []string{"stdout"})
}

// Load 加载配置文件；configPath 为空时按默认路径搜索，找不到文件则只用默认值和环境变量
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("ONEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("connection.access_token")

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/onebot")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.Mode {
	case ModeOutbound, ModeReverse:
	default:
		return Config{}, fmt.Errorf("unknown mode %q (want %s or %s)", cfg.Mode, ModeOutbound, ModeReverse)
	}
	if err := cfg.Connection.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
