// Package appctx collapses the package-level globals the teacher
// keeps in lnd.go (cfg, registeredChains) into a single value built
// once at startup and threaded into every component that needs it,
// per spec §9's design note. Nothing in this module reaches for a
// package-level config var the way lnd.go's `cfg *config` does;
// constructors take what they need as arguments. The subsystem
// loggers are not part of the Context: they stay package-level
// values obtained from internal/log.
package appctx

import (
	"time"

	"github.com/lightningnetwork/wsrelayd/metrics"
	"github.com/lightningnetwork/wsrelayd/ratelimit"
	"github.com/lightningnetwork/wsrelayd/registry"
)

// Config is the subset of the process configuration the application
// context threads through.
type Config struct {
	ServerSecret       string
	MaxMessageSize     int
	MaxChannels        int
	RateLimitMax       int
	RateLimitWindowSec int
	Compression        bool
}

// Context is the application-wide set of constructed collaborators.
// It is built once in main and passed by pointer to newServer, which
// hands upgrade.Gate and relay.Dispatcher only the collaborators they
// need (the limiter and secret, the registry and error counters).
type Context struct {
	Config   Config
	Registry *registry.Registry
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
}

// New constructs a Context from cfg, building the registry, rate
// limiter, and metrics collaborators it owns.
func New(cfg Config) *Context {
	return &Context{
		Config:   cfg,
		Registry: registry.New(cfg.MaxChannels),
		Limiter:  ratelimit.New(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowSec)*time.Second),
		Metrics:  metrics.New(),
	}
}
