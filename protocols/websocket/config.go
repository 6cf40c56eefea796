package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lisuiheng/onebot-go/auth"
)

// Config 定义单个连接的配置，构造后不可修改
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
	// AccessToken is nil when no token is configured.
	AccessToken *string `mapstructure:"access_token"`

	// HeartbeatInterval bounds the silence between heartbeat events before
	// the connection is dropped. Zero disables the check.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	// MaxReconnectAttempts limits consecutive connection attempts of an
	// outbound client. Zero or less means unbounded.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`

	Auth auth.Policy `mapstructure:"auth"`
}

func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              6700,
		Path:              "/",
		ResponseTimeout:   15 * time.Second,
		ReconnectInterval: 3 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Auth:              auth.DefaultPolicy(),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("response timeout must be positive"))
	}
	if c.ReconnectInterval < 0 {
		errs = append(errs, errors.New("reconnect interval cannot be negative"))
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat interval cannot be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the ws:// address an outbound client dials.
func (c Config) URL() string {
	u := url.URL{Scheme: "ws", Host: c.Addr(), Path: c.Path}
	return u.String()
}

// Token returns the configured token and whether one is set and non-empty.
func (c Config) Token() (string, bool) {
	if c.AccessToken == nil || *c.AccessToken == "" {
		return "", false
	}
	return *c.AccessToken, true
}
