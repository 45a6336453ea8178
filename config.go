package main

import (
	"os"
	"strconv"

	"github.com/go-errors/errors"
	flags "github.com/jessevdk/go-flags"
)

// config mirrors the table in spec §6, loaded the way lnd.go's
// loadConfig does: flag defaults parsed by go-flags, then overlaid by
// environment variables of the same name, with SERVER_SECRET required
// and refused empty.
type config struct {
	ServerSecret       string `long:"serversecret" description:"shared secret required to complete the upgrade handshake"`
	Port               int    `long:"port" description:"TCP port to listen on" default:"3000"`
	MaxMessageSize     int64  `long:"maxmessagesize" description:"maximum per-frame size in bytes" default:"104857600"`
	IdleTimeoutSec     int    `long:"idletimeoutsec" description:"idle connection timeout in seconds" default:"90"`
	RateLimitMax       int    `long:"ratelimitmax" description:"max upgrade attempts per source IP per window" default:"20"`
	RateLimitWindowSec int    `long:"ratelimitwindowsec" description:"rate limit window length in seconds" default:"60"`
	Compression        bool   `long:"compression" description:"enable permessage-deflate"`
	MaxChannels        int    `long:"maxchannels" description:"server-wide ceiling on concurrent channels" default:"4"`
	LogLevel           string `long:"loglevel" description:"debug|info|warn|error" default:"info"`
	LogDir             string `long:"logdir" description:"directory for rotated log files; empty disables file logging"`
}

// defaultConfig returns the flag-default values, matching the
// defaults named in spec §6's Configuration table.
func defaultConfig() config {
	return config{
		Port:               3000,
		MaxMessageSize:     104_857_600,
		IdleTimeoutSec:      90,
		RateLimitMax:        20,
		RateLimitWindowSec:  60,
		Compression:         false,
		MaxChannels:         4,
		LogLevel:            "info",
	}
}

// loadConfig parses CLI flags, overlays environment variables named in
// spec §6, and validates the result. Argv is passed explicitly (not
// read from os.Args) so tests can exercise it without touching the
// process's real arguments.
func loadConfig(argv []string) (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}

	overlayEnv(&cfg)

	if cfg.ServerSecret == "" {
		return nil, errors.New("SERVER_SECRET is required and must not be empty")
	}
	if cfg.MaxChannels <= 0 {
		return nil, errors.New("MAX_CHANNELS must be positive")
	}
	if cfg.RateLimitMax <= 0 {
		return nil, errors.New("RATE_LIMIT_MAX must be positive")
	}

	return &cfg, nil
}

// overlayEnv applies the environment variables named in spec §6 on
// top of whatever the flags produced, mirroring lnd.go's layered
// config (flags, then file, then env, last write wins) simplified to
// flags-then-env since this module has no config file.
func overlayEnv(cfg *config) {
	if v, ok := os.LookupEnv("SERVER_SECRET"); ok {
		cfg.ServerSecret = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envInt64("MAX_MESSAGE_SIZE"); ok {
		cfg.MaxMessageSize = v
	}
	if v, ok := envInt("IDLE_TIMEOUT_SEC"); ok {
		cfg.IdleTimeoutSec = v
	}
	if v, ok := envInt("RATE_LIMIT_MAX"); ok {
		cfg.RateLimitMax = v
	}
	if v, ok := envInt("RATE_LIMIT_WINDOW_SEC"); ok {
		cfg.RateLimitWindowSec = v
	}
	if v, ok := os.LookupEnv("COMPRESSION"); ok {
		cfg.Compression = v == "true" || v == "1"
	}
	if v, ok := envInt("MAX_CHANNELS"); ok {
		cfg.MaxChannels = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// redactedSecret returns a safe-to-log representation of the
// configured secret, matching the "structured startup logging...with
// the secret redacted" note in SPEC_FULL.md.
func (c *config) redactedSecret() string {
	if len(c.ServerSecret) <= 4 {
		return "****"
	}
	return c.ServerSecret[:2] + "****" + c.ServerSecret[len(c.ServerSecret)-2:]
}
