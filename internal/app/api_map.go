package app

import (
	"strings"
	"time"

	"sipcore/internal/api"
	"sipcore/internal/config"
)

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	ac := cfg.API
	out := api.Config{
		Enabled:       ac.Enabled,
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		CORSOrigins:   ac.CORSOrigins,
		Pprof:         ac.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("api.read_timeout", ac.ReadTimeout, 15*time.Second); err != nil {
		return api.Config{}, err
	}
	// Manual runs can take a while; 0 disables the write timeout.
	if out.WriteTimeout, err = config.ParseDurationField("api.write_timeout", ac.WriteTimeout); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("api.idle_timeout", ac.IdleTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}
