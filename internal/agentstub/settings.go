package agentstub

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost binds every interface so the stub works inside a container.
	DefaultHost = "0.0.0.0"
	// DefaultPort matches the first port in the sample roster.
	DefaultPort = 7123
	// DefaultMaxBodyBytes limits game state payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultReadTimeout        = 5 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Settings configures the stub agent.
type Settings struct {
	Name         string
	Host         string
	Port         int
	Color        string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromEnv reads SNAKE_NAME, PORT and HOST, the variables the
// generated compose file sets for every service.
func SettingsFromEnv() Settings {
	s := Settings{Name: "arena-stub", Host: DefaultHost, Port: DefaultPort}
	s.applyEnvOverrides()
	s.normalize()
	return s
}

func (s *Settings) applyEnvOverrides() {
	if s == nil {
		return
	}
	if name := strings.TrimSpace(os.Getenv("SNAKE_NAME")); name != "" {
		s.Name = name
	}
	if host := strings.TrimSpace(os.Getenv("HOST")); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port != 0 && !isValidPort(s.Port) {
		s.Port = DefaultPort
	}
	if s.Color == "" {
		s.Color = "#5B8DEF"
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
