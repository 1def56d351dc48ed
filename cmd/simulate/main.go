package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/proctor/internal/simulate"
	"github.com/okian/proctor/pkg/logger"
)

const defaultTimeout = 10 * time.Second

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		cfg      simulate.Config
		scenario string
		file     string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "simulate",
		Short: "Stream a synthetic proctoring session to a running proctor server",
		Long: `simulate starts a session on a proctor server running with source "feed",
streams synthetic landmark frames and audio blocks following a scenario,
stops the session and prints the report.`,
		Example: `  simulate --scenario wandering
  simulate --url http://localhost:9080 --file my-scenario.yaml --json`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.SetLevelString(logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				sc  *simulate.Scenario
				err error
			)
			if file != "" {
				sc, err = simulate.LoadScenarioFile(file)
			} else {
				sc, err = simulate.Builtin(scenario)
			}
			if err != nil {
				return err
			}

			stats, err := simulate.Run(cmd.Context(), cfg, sc, out)
			logger.Get().Info(cmd.Context(), "simulation finished",
				logger.String("session_id", stats.SessionID),
				logger.Any("frames_sent", stats.FramesSent),
				logger.Any("frames_failed", stats.FramesFailed),
				logger.Any("audio_sent", stats.AudioSent),
				logger.Any("audio_failed", stats.AudioFailed),
				logger.Duration("duration", stats.Duration))
			return err
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the proctor server")
	flags.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.IntVar(&cfg.Width, "width", 640, "synthesized frame width")
	flags.IntVar(&cfg.Height, "height", 480, "synthesized frame height")
	flags.BoolVar(&cfg.JSON, "json", false, "print the report as JSON")
	flags.StringVarP(&scenario, "scenario", "s", "attentive", "built-in scenario name")
	flags.StringVarP(&file, "file", "f", "", "scenario YAML file (overrides --scenario)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios",
		RunE: func(*cobra.Command, []string) error {
			for _, name := range simulate.Names() {
				sc, err := simulate.Builtin(name)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(out, "%-10s %6s  %s\n", name, sc.Duration(), sc.Description); err != nil {
					return err
				}
			}
			return nil
		},
	})

	return root
}
