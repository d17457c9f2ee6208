package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/buildlearn/learning-session/internal/api/assessment"
	"github.com/buildlearn/learning-session/internal/api/lms"
	"github.com/buildlearn/learning-session/internal/config"
	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/database"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/portal"
	"github.com/buildlearn/learning-session/internal/session"
	"github.com/buildlearn/learning-session/internal/viewer"
)

// loadConfig reads the configuration and configures logging from it
func loadConfig(c *cli.Context, validate bool) (*config.Config, error) {
	load := config.Read
	if validate {
		load = config.Load
	}
	cfg, err := load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	setupLogging(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		TickInterval:      cfg.Session.TickInterval,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		HiddenExitAfter:   cfg.Session.HiddenExitAfter,
		StartRetryDelay:   cfg.Session.StartRetryDelay,
	}
}

func openLedger(cfg *config.Config, log *logger.Logger) (*database.Ledger, error) {
	return database.Open(database.Config{
		Driver: cfg.Ledger.Driver,
		Path:   cfg.Ledger.Path,
		DSN:    cfg.Ledger.DSN,
	}, log)
}

// buildPortal wires the REST client, the optional assessment runner and the
// optional ledger into a portal. The returned cleanup closes the ledger.
func buildPortal(cfg *config.Config, clock session.Clock, log *logger.Logger) (*portal.Portal, func(), error) {
	client := lms.NewClient(lms.Config{
		BaseURL:    cfg.API.URL,
		Token:      cfg.API.Token,
		Timeout:    cfg.API.Timeout,
		MaxRetries: cfg.API.MaxRetries,
		RetryDelay: cfg.API.RetryDelay,
		RateLimit:  cfg.API.RateLimit,
		Burst:      cfg.API.Burst,
		ModuleTTL:  cfg.Cache.ModuleTTL,
	}, log)

	pcfg := portal.Config{
		Fetcher: client,
		API:     client,
		Media:   logMedia{log: log},
		Clock:   clock,
		Session: sessionConfig(cfg),
		Logger:  log,
	}
	if cfg.Assessment.URL != "" {
		pcfg.Runner = assessment.NewClient(assessment.Config{
			URL:          cfg.Assessment.URL,
			Token:        cfg.API.Token,
			PollInterval: cfg.Assessment.PollInterval,
			Timeout:      cfg.API.Timeout,
			RateLimit:    cfg.API.RateLimit,
			Burst:        cfg.API.Burst,
		}, log)
	}

	cleanup := func() {}
	if cfg.Ledger.Enabled {
		ledger, err := openLedger(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		pcfg.Journal = ledger
		cleanup = func() {
			if err := ledger.Close(); err != nil {
				log.Warn("Failed to close ledger", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	p, err := portal.New(pcfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

// closePortal gives pending commits a bounded amount of time to land
func closePortal(p *portal.Portal, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Close(ctx)
}

// logMedia stands in for a renderer when running headless
type logMedia struct {
	log *logger.Logger
}

func (m logMedia) Load(item content.Item) error {
	m.log.Debug("Rendering item", map[string]interface{}{
		"item":  item.Key(),
		"type":  string(item.Type),
		"title": item.Title,
	})
	return nil
}

func (logMedia) Play() error { return nil }
func (logMedia) Pause() error { return nil }
func (logMedia) Seek(float64) error { return nil }
func (logMedia) SetPage(int) error { return nil }
func (logMedia) SetPlaybackRate(float64) error { return nil }
func (logMedia) SetVolume(float64, bool) error { return nil }
func (logMedia) RequestFullscreen(bool) error { return nil }

var _ viewer.Media = logMedia{}
