// learning-session drives the learning-session core against the LMS backend:
// scripted replays, a live ticking session and the commit ledger report.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/buildlearn/learning-session/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "learning-session",
		Usage:   "Track learning sessions and course navigation against the LMS",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Commands: []*cli.Command{
			replayCommand(),
			watchCommand(),
			ledgerCommand(),
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "learning-session %s (commit %s, built %s)\n", version, commit, date)
					return nil
				},
			},
		},
	}
}

func setupLogging(level, format string) {
	logger.ForceSetup(logger.Config{
		Level:      level,
		Format:     logger.ParseLogFormat(format),
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	})
}
