package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/script"
	"github.com/buildlearn/learning-session/internal/server"
	"github.com/buildlearn/learning-session/internal/session"
)

const shutdownTimeout = 30 * time.Second

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay a scripted viewing session against the backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "script",
				Aliases:  []string{"s"},
				Usage:    "YAML script `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "course",
				Usage: "Course to open, overriding the script",
			},
		},
		Action: runReplay,
	}
}

func runReplay(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.Get()

	s, err := script.Load(c.String("script"))
	if err != nil {
		return err
	}
	if course := c.String("course"); course != "" {
		s.Course = course
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := session.NewManualClock(time.Now())
	p, cleanup, err := buildPortal(cfg, clock, log)
	if err != nil {
		return err
	}
	defer cleanup()

	runner := script.NewRunner(p, clock, cfg.Session.TickInterval, log)
	report, runErr := runner.Run(ctx, s)
	if err := closePortal(p, shutdownTimeout); err != nil {
		log.Warn("Commits still pending at shutdown", map[string]interface{}{"error": err.Error()})
	}
	if report != nil {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return runErr
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Open a course and track a live session until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "course",
				Usage:    "Course `ID` to open",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "item",
				Usage: "Zero-based item index to start at",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Serve the renderer control API on `ADDR` (e.g. 127.0.0.1:8787)",
				EnvVars: []string{"LISTEN_ADDR"},
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	p, cleanup, err := buildPortal(cfg, session.SystemClock{}, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := p.Open(ctx, c.String("course")); err != nil {
		_ = closePortal(p, shutdownTimeout)
		return err
	}
	if idx := c.Int("item"); idx > 0 {
		p.GoTo(idx)
	}

	pos := p.Position()
	log.Info("Watching course", map[string]interface{}{
		"course_id": pos.CourseID,
		"index":     pos.Index,
		"items":     pos.Total,
	})

	var srv *server.Server
	if addr := c.String("listen"); addr != "" {
		srv = server.New(addr, p, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("Control server failed", map[string]interface{}{"error": err.Error()})
				stop()
			}
		}()
	}

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("Tick loop stopped", map[string]interface{}{"error": err.Error()})
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Control server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}
	if err := closePortal(p, shutdownTimeout); err != nil {
		log.Warn("Commits still pending at shutdown", map[string]interface{}{"error": err.Error()})
	}

	stats := p.Stats()
	fmt.Fprintf(c.App.Writer, "sessions started: %d, ended: %d, failures: %d, lost seconds: %d\n",
		stats.Started, stats.Ended, stats.Failures, stats.LostSeconds)
	return nil
}

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect the commit ledger",
		Subcommands: []*cli.Command{
			{
				Name:   "summary",
				Usage:  "Aggregate commit outcomes",
				Action: runLedgerSummary,
			},
			{
				Name:  "recent",
				Usage: "List the latest commits",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Number of records"},
				},
				Action: runLedgerRecent,
			},
			{
				Name:  "prune",
				Usage: "Delete old commits",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "Age cutoff"},
				},
				Action: runLedgerPrune,
			},
		},
	}
}

func runLedgerSummary(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg, logger.Get())
	if err != nil {
		return err
	}
	defer ledger.Close()

	summary, err := ledger.Summary(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func runLedgerRecent(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg, logger.Get())
	if err != nil {
		return err
	}
	defer ledger.Close()

	records, err := ledger.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOP\tCOURSE\tITEM\tSECONDS\tPERCENT\tOK\tERROR")
	for _, r := range records {
		item := r.ContentID
		if item == "" {
			item = r.ModuleID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.1f\t%t\t%s\n",
			r.OccurredAt.Format(time.RFC3339), r.Op, r.CourseID, item,
			r.ElapsedSeconds, r.Percent, r.Success, r.Error)
	}
	return w.Flush()
}

func runLedgerPrune(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg, logger.Get())
	if err != nil {
		return err
	}
	defer ledger.Close()

	n, err := ledger.Prune(c.Context, time.Now().Add(-c.Duration("older-than")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %d records\n", n)
	return nil
}
