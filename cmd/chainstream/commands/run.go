package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/chainstream/internal/bytesize"
	"github.com/marmos91/chainstream/internal/logger"
	"github.com/marmos91/chainstream/pkg/api"
	"github.com/marmos91/chainstream/pkg/config"
	"github.com/marmos91/chainstream/pkg/graph"
	"github.com/marmos91/chainstream/pkg/jobs"
	"github.com/marmos91/chainstream/pkg/jobs/store"
	"github.com/marmos91/chainstream/pkg/metrics"
	"github.com/marmos91/chainstream/pkg/stream"
)

var runFlags struct {
	jobID        string
	target       string
	base         string
	bottom       string
	backingFile  string
	maskProtocol bool
	filterNode   string
	speed        string
	onError      string
	adaptive     bool
	threshold    float64
	pause        time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run <manifest>",
	Short: "Stream a backing chain described by a manifest",
	Long: `Load a chain manifest, stream the data between the base and the top
image into the top, and splice the chain on success.

The command runs until the job finishes. While it runs, the management
API serves job status, cancel and resume; SIGINT and SIGTERM request
cooperative cancellation.

Examples:
  # Stream the whole chain below the manifest's top node
  chainstream run chain.yaml

  # Stream down to (but not including) a base node, rate limited
  chainstream run chain.yaml --base base.raw --speed 64Mi

  # Adaptive throttling with a calibration percentage
  chainstream run chain.yaml --adaptive --adaptive-threshold 0.5

  # Pause on I/O errors instead of failing, resume via the API
  chainstream run chain.yaml --on-error stop`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.jobID, "job-id", "", "Job identifier (auto-generated when empty)")
	f.StringVar(&runFlags.target, "target", "", "Top image to stream into (default: manifest's top node)")
	f.StringVar(&runFlags.base, "base", "", "Streaming boundary: data at or below this node stays referenced")
	f.StringVar(&runFlags.bottom, "bottom", "", "Lowest node whose data is copied (mutually exclusive with --base)")
	f.StringVar(&runFlags.backingFile, "backing-file", "", "Override the backing reference written at commit time")
	f.BoolVar(&runFlags.maskProtocol, "mask-protocol", false, "Commit protocol-level bases with format 'raw'")
	f.StringVar(&runFlags.filterNode, "filter-node", "", "Name for the interposing copy-on-read filter")
	f.StringVar(&runFlags.speed, "speed", "", "Copy throughput cap, e.g. 64Mi (default: unlimited)")
	f.StringVar(&runFlags.onError, "on-error", "", "Failure policy: report, stop or ignore")
	f.BoolVar(&runFlags.adaptive, "adaptive", false, "Enable the adaptive throttle")
	f.Float64Var(&runFlags.threshold, "adaptive-threshold", 0, "Throttle threshold: [0,1) calibration percentage, >=1 absolute IOPS")
	f.DurationVar(&runFlags.pause, "pause", 0, "Sleep applied when the throttle trips")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	g, top, ids, err := loadChain(args[0])
	if err != nil {
		return err
	}

	target := top
	if runFlags.target != "" {
		var ok bool
		if target, ok = ids[runFlags.target]; !ok {
			return fmt.Errorf("target node %q not in manifest", runFlags.target)
		}
	}

	opts, err := buildOptions(cmd, cfg, ids)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	manager := stream.NewManager(st, metrics.NewStreamMetrics())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job, err := manager.Start(ctx, g, target, opts)
	if err != nil {
		return err
	}

	if cfg.API.IsEnabled() {
		server := api.NewServer(cfg.API, manager)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("API server failed", logger.KeyError, err)
			}
		}()
	}

	return waitForJob(ctx, cfg, manager, job)
}

// loadChain builds the graph from a manifest file.
func loadChain(path string) (*graph.Graph, graph.NodeID, map[string]graph.NodeID, error) {
	m, err := graph.LoadManifest(path)
	if err != nil {
		return nil, graph.None, nil, err
	}
	return m.Build()
}

// buildOptions merges the config file's stream defaults with the command
// line flags. Flags that were set explicitly win.
func buildOptions(cmd *cobra.Command, cfg *config.Config, ids map[string]graph.NodeID) (stream.Options, error) {
	opts := stream.Options{
		JobID:               runFlags.jobID,
		BackingFile:         runFlags.backingFile,
		BackingMaskProtocol: runFlags.maskProtocol,
		FilterNodeName:      runFlags.filterNode,
		Speed:               cfg.Stream.Speed.Int64(),
		OnError:             cfg.Stream.OnError,
		Adaptive:            cfg.Stream.Adaptive,
		AdaptiveThreshold:   cfg.Stream.AdaptiveThreshold,
		PauseDuration:       cfg.Stream.PauseDuration,
	}

	if runFlags.base != "" {
		id, ok := ids[runFlags.base]
		if !ok {
			return opts, fmt.Errorf("base node %q not in manifest", runFlags.base)
		}
		opts.Base = id
	}
	if runFlags.bottom != "" {
		id, ok := ids[runFlags.bottom]
		if !ok {
			return opts, fmt.Errorf("bottom node %q not in manifest", runFlags.bottom)
		}
		opts.Bottom = id
	}

	if runFlags.speed != "" {
		speed, err := bytesize.Parse(runFlags.speed)
		if err != nil {
			return opts, fmt.Errorf("invalid --speed: %w", err)
		}
		opts.Speed = speed.Int64()
	}
	if runFlags.onError != "" {
		var mode jobs.ErrorMode
		if err := mode.UnmarshalText([]byte(runFlags.onError)); err != nil {
			return opts, err
		}
		opts.OnError = mode
	}
	if cmd.Flags().Changed("adaptive") {
		opts.Adaptive = runFlags.adaptive
	}
	if cmd.Flags().Changed("adaptive-threshold") {
		opts.AdaptiveThreshold = runFlags.threshold
	}
	if cmd.Flags().Changed("pause") {
		opts.PauseDuration = runFlags.pause
	}

	return opts, nil
}

// waitForJob blocks until the job reaches a terminal state, logging progress
// along the way. A signal requests cancellation and waits out the shutdown
// timeout.
func waitForJob(ctx context.Context, cfg *config.Config, manager *stream.Manager, job *stream.Job) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, cancelling job", logger.KeyJob, job.ID())
			_ = manager.Cancel(job.ID())

			done := make(chan struct{})
			go func() {
				manager.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(cfg.ShutdownTimeout):
				return fmt.Errorf("job %s did not stop within the shutdown timeout", job.ID())
			}
			return nil

		case <-ticker.C:
			rec, err := manager.Get(context.Background(), job.ID())
			if err != nil {
				return err
			}
			switch rec.State {
			case jobs.StateCompleted:
				manager.Wait()
				fmt.Printf("Job %s completed: %s copied\n",
					rec.ID, bytesize.ByteSize(rec.BytesCopied))
				return nil
			case jobs.StateCancelled:
				manager.Wait()
				fmt.Printf("Job %s cancelled at offset %d\n", rec.ID, rec.Offset)
				return nil
			case jobs.StateFailed:
				manager.Wait()
				return fmt.Errorf("job %s failed: %s", rec.ID, rec.Error)
			case jobs.StatePaused:
				logger.Warn("job paused on error, resume via the API",
					logger.KeyJob, rec.ID, logger.KeyError, rec.Error)
			default:
				logger.Debug("job progress",
					logger.KeyJob, rec.ID,
					logger.KeyOffset, rec.Offset,
					logger.KeyBytes, rec.BytesCopied)
			}
		}
	}
}
