// Command patchbay runs a topology document: it connects every
// declared plug and forwards messages along every declared link until
// one of them ends, then shuts the rest down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arkedge/patchbay/orchestrator"
	"github.com/arkedge/patchbay/spaghetti"
)

const legalNotice = `patchbay links together independently maintained plug programs over
subprocess stdio and websockets. It ships no bundled third-party
binaries and claims no license over whatever you point it at.`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "patchbay:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		spaghettiPath string
		gracePeriod   int
		dumpDir       string
		showNotice    bool
	)

	cmd := &cobra.Command{
		Use:   "patchbay",
		Short: "Connect plugs and forward messages along their configured links",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showNotice {
				fmt.Println(legalNotice)
				return nil
			}
			return run(spaghettiPath, gracePeriod, dumpDir)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVarP(&spaghettiPath, "spaghetti", "s", "", "path to the topology document (required)")
	cmd.Flags().IntVar(&gracePeriod, "termination-grace-period-secs", 10, "seconds to wait for a plug to exit before killing it")
	cmd.Flags().StringVar(&dumpDir, "dump-dir", "", "directory to record every link's traffic into (disabled if empty)")
	cmd.Flags().BoolVar(&showNotice, "legal-notice", false, "print third-party notices and exit")

	return cmd
}

func run(spaghettiPath string, gracePeriodSecs int, dumpDir string) error {
	if spaghettiPath == "" {
		return fmt.Errorf("--spaghetti is required")
	}

	logger := newLogger()
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	f, err := os.Open(spaghettiPath)
	if err != nil {
		return fmt.Errorf("opening topology document %q: %w", spaghettiPath, err)
	}
	raw, err := spaghetti.Parse(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("closing topology document %q: %w", spaghettiPath, closeErr)
	}

	cfg, err := raw.Validate()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := orchestrator.Options{
		GracePeriod: time.Duration(gracePeriodSecs) * time.Second,
		Logger:      logger,
		DumpDir:     dumpDir,
	}

	logger.Info("starting", "spaghetti", spaghettiPath, "plugs", len(cfg.Plugs), "links", len(cfg.Links))
	if err := orchestrator.Run(ctx, cfg, opts); err != nil {
		logger.Error("run failed", "err", err)
		return err
	}
	logger.Info("run complete")
	return nil
}

// newLogger builds the root structured logger. PATCHBAY_LOG selects the
// minimum level (debug, info, warn, error); info is the default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(os.Getenv("PATCHBAY_LOG")))
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
