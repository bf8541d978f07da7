package api

import (
	"net"
	"slices"
	"strings"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

// Config controls the HTTP control surface.
//
// Binding to a non-loopback address requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	CORSOrigins   []string
	// Pprof mounts net/http/pprof under /debug, behind the same token.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

func needsRestart(a, b Config) bool {
	return a.addr() != b.addr() ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		!slices.Equal(a.CORSOrigins, b.CORSOrigins) ||
		a.Pprof != b.Pprof ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
