package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklab/nditracker/internal/config"
	"github.com/tracklab/nditracker/internal/logger"
	"github.com/tracklab/nditracker/internal/server"
	"github.com/tracklab/nditracker/internal/tracker"
)

const (
	maxConnectBackoff = 30 * time.Second

	// maxTrackFailures is how many consecutive bad frames are tolerated
	// before the session is torn down and reconnected.
	maxTrackFailures = 5
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the measurement controller and stream poses",
		RunE:  runRun,
	}

	cmd.Flags().StringP("config", "c", "/etc/nditracker/config.yaml", "Path to config file")
	cmd.Flags().Bool("demo", false, "Run with simulated pose data")
	cmd.Flags().String("port", "", "Override serial port (e.g. /dev/ttyUSB0)")
	cmd.Flags().String("listen", "", "Override listen address (e.g. :8080)")
	cmd.Flags().Bool("strays", false, "Report stray markers in every frame")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	demo, _ := cmd.Flags().GetBool("demo")
	port, _ := cmd.Flags().GetString("port")
	listen, _ := cmd.Flags().GetString("listen")

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] nditracker starting")

	cfg := config.LoadConfig(configPath)
	if demo {
		cfg.Tracker.Type = "demo"
	}
	if port != "" {
		cfg.Serial.Port = port
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if cmd.Flags().Changed("strays") {
		v, _ := cmd.Flags().GetBool("strays")
		cfg.Tracker.StrayMarkers = v
	}
	if err := cfg.Validate(); err != nil {
		return exitError(2, "%v", err)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	poseLog := logger.New(logger.Config{
		Enabled:    cfg.Logging.Enabled,
		Path:       cfg.Logging.Path,
		IntervalMs: cfg.Logging.IntervalMs,
	})
	defer poseLog.Close()

	// Start the server first so status is observable while the controller
	// is still connecting
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg)
		go func() {
			if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[main] server exited: %v", err)
				cancel()
			}
		}()
	}

	runLoop(ctx, cfg, provider, srv, poseLog)
	return nil
}

// buildProvider constructs the configured pose source and declares its
// tools.
func buildProvider(cfg *config.Config) (tracker.Provider, error) {
	var provider tracker.Provider
	switch cfg.Tracker.Type {
	case "ndi":
		provider = tracker.NewController(tracker.Config{
			PortName:         cfg.Serial.Port,
			ReadTimeout:      time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
			StrayMarkers:     cfg.Tracker.StrayMarkers,
			FirmwareRevision: cfg.Tracker.FirmwareRevision,
		})
	default:
		provider = tracker.NewDemo()
		provider.SetStrayReporting(cfg.Tracker.StrayMarkers)
	}
	for _, d := range cfg.ToolDeclarations() {
		if err := provider.DeclareTool(d); err != nil {
			return nil, fmt.Errorf("declare tool %s: %w", d.Name, err)
		}
	}
	return provider, nil
}

// runLoop is the single goroutine that owns the provider. It connects with
// exponential backoff, polls one frame per tick, applies queued control
// ops between ticks and tears the session down on persistent failures.
func runLoop(ctx context.Context, cfg *config.Config, provider tracker.Provider, srv *server.Server, poseLog *logger.Logger) {
	tick := time.NewTicker(time.Second / time.Duration(cfg.Tracker.PollHz))
	defer tick.Stop()

	var opCh <-chan server.Op
	if srv != nil {
		opCh = srv.Ops()
	}

	publishStatus := func() {
		if srv != nil {
			srv.UpdateStatus(statusOf(provider))
		}
	}

	backoff := time.Second
	failures := 0

	for {
		if !provider.Connected() {
			publishStatus()
			if !connectSession(ctx, cfg, provider, &backoff) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			failures = 0
			publishStatus()
		}

		select {
		case <-ctx.Done():
			if err := provider.Disconnect(); err != nil {
				log.Printf("[main] disconnect: %v", err)
			}
			publishStatus()
			return

		case op := <-opCh:
			err := applyOp(provider, op)
			if op.Reply != nil {
				op.Reply <- err
			}
			publishStatus()

		case <-tick.C:
			if !provider.Tracking() {
				continue
			}
			frame, err := provider.Track()
			if err != nil {
				failures++
				log.Printf("[main] frame failed (%d/%d): %v", failures, maxTrackFailures, err)
				if failures >= maxTrackFailures {
					log.Printf("[main] too many bad frames, reconnecting")
					provider.Disconnect()
					publishStatus()
				}
				continue
			}
			failures = 0
			if srv != nil {
				srv.Publish(frame)
			}
			poseLog.Record(frame)
		}
	}
}

// connectSession runs one connect attempt plus tool setup, backing off on
// failure. Returns false when the attempt failed or ctx was cancelled.
func connectSession(ctx context.Context, cfg *config.Config, provider tracker.Provider, backoff *time.Duration) bool {
	fail := func(stage string, err error) bool {
		log.Printf("[main] %s failed: %v (retry in %v)", stage, err, *backoff)
		provider.Disconnect()
		select {
		case <-ctx.Done():
		case <-time.After(*backoff):
		}
		*backoff *= 2
		if *backoff > maxConnectBackoff {
			*backoff = maxConnectBackoff
		}
		return false
	}

	if err := provider.Connect(); err != nil {
		return fail("connect", err)
	}
	if err := provider.SetupTools(); err != nil {
		return fail("tool setup", err)
	}
	if cfg.Tracker.TrackOnStart {
		if err := provider.SetTracking(true); err != nil {
			return fail("start tracking", err)
		}
	}
	*backoff = time.Second
	return true
}

// applyOp executes one queued control request on the provider.
func applyOp(provider tracker.Provider, op server.Op) error {
	switch op.Kind {
	case server.OpBeep:
		return provider.Beep(op.Count)
	case server.OpTracking:
		return provider.SetTracking(op.On)
	case server.OpStrays:
		provider.SetStrayReporting(op.On)
		return nil
	default:
		return fmt.Errorf("unknown op %d", op.Kind)
	}
}

// statusOf snapshots the provider for the status API.
func statusOf(provider tracker.Provider) server.Status {
	st := server.Status{
		Provider:     provider.Name(),
		Connected:    provider.Connected(),
		Tracking:     provider.Tracking(),
		StrayMarkers: provider.StrayReporting(),
		SessionID:    provider.SessionID(),
		Tools:        len(provider.Tools()),
	}
	switch {
	case st.Tracking:
		st.State = "tracking"
	case st.Connected:
		st.State = "connected"
	default:
		st.State = "disconnected"
	}
	if c, ok := provider.(*tracker.Controller); ok {
		st.State = c.State().String()
		st.Port = c.Port()
	}
	return st
}
