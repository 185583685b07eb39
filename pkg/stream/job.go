// Package stream implements backing-chain streaming: copying the data of a
// chain's intermediate images into the active top image so the chain below a
// chosen base can be detached.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/marmos91/chainstream/internal/logger"
	"github.com/marmos91/chainstream/pkg/graph"
	"github.com/marmos91/chainstream/pkg/iostat"
	"github.com/marmos91/chainstream/pkg/jobs"
	"github.com/marmos91/chainstream/pkg/metrics"
	"github.com/marmos91/chainstream/pkg/throttle"
)

// ChunkSize is the fixed copy granularity of the streaming loop.
const ChunkSize = 512 * 1024

var jobSeq atomic.Int64

// CommitError wraps a failure of the final backing-chain splice. The copy
// itself succeeded; only the rewrite of the backing reference failed.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("stream: committing backing chain: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Job is one streaming job. Create it with New, drive it with Run.
type Job struct {
	id     string
	g      *graph.Graph
	target graph.NodeID
	opts   Options

	// baseOverlay is the lowest node whose data is copied; aboveBase is the
	// node whose child becomes the new backing link at commit time. They
	// differ only when filters sit between the base overlay and the base.
	baseOverlay graph.NodeID
	aboveBase   graph.NodeID

	filter graph.NodeID

	host     *jobs.Host
	limiter  *jobs.Limiter
	tracker  *iostat.Tracker
	throttle *throttle.Throttle
	metrics  *metrics.StreamMetrics

	copied      atomic.Int64
	wasReadOnly bool
}

// New validates the options, resolves the streaming boundary, makes the
// target writable and inserts the interposing copy-on-read filter. The
// returned job is ready for Run. On error the graph is left untouched.
func New(g *graph.Graph, target graph.NodeID, opts Options) (*Job, error) {
	if err := opts.validateAndApplyDefaults(); err != nil {
		return nil, err
	}
	if opts.JobID == "" {
		opts.JobID = fmt.Sprintf("stream-%d", jobSeq.Add(1))
	}

	var baseOverlay, aboveBase graph.NodeID
	if opts.Bottom != graph.None {
		if g.IsFilter(opts.Bottom) {
			return nil, fmt.Errorf("stream: bottom node %q is a filter", g.Name(opts.Bottom))
		}
		if g.SkipFilters(target) != opts.Bottom {
			if _, err := g.FindOverlay(target, opts.Bottom); err != nil {
				return nil, fmt.Errorf("stream: node %q is not in the backing chain of %q: %w",
					g.Name(opts.Bottom), g.Name(target), err)
			}
		}
		baseOverlay = opts.Bottom
		aboveBase = opts.Bottom
	} else {
		ov, err := g.FindOverlay(target, opts.Base)
		if err != nil {
			return nil, fmt.Errorf("stream: node %q is not in the backing chain of %q: %w",
				g.Name(opts.Base), g.Name(target), err)
		}
		baseOverlay = ov

		// aboveBase is the node directly above base, which may be a filter
		// below the base overlay's COW link.
		aboveBase = ov
		if cow := g.BackingChild(ov); cow != opts.Base {
			aboveBase = cow
			for aboveBase != graph.None && g.FilterChild(aboveBase) != opts.Base {
				aboveBase = g.FilterChild(aboveBase)
			}
			if aboveBase == graph.None {
				return nil, fmt.Errorf("stream: node %q is not in the backing chain of %q: %w",
					g.Name(opts.Base), g.Name(target), graph.ErrNotInChain)
			}
		}
	}

	// A read-only target must be reopened read-write before streaming can
	// populate it. The chain is frozen across the reopen so a concurrent
	// commit cannot rewrite the links mid-transition.
	wasReadOnly := g.IsReadOnly(target)
	if wasReadOnly {
		if err := g.FreezeChain(target, aboveBase); err != nil {
			return nil, err
		}
		reopenErr := g.ReopenReadOnly(target, false)
		if uerr := g.UnfreezeChain(target, aboveBase); uerr != nil && reopenErr == nil {
			reopenErr = uerr
		}
		if reopenErr != nil {
			return nil, fmt.Errorf("stream: reopening %q read-write: %w", g.Name(target), reopenErr)
		}
	}

	filter, err := g.InsertFilter(target, baseOverlay, opts.FilterNodeName)
	if err != nil {
		if wasReadOnly {
			if rerr := g.ReopenReadOnly(target, true); rerr != nil {
				logger.Warn("failed to restore read-only state",
					logger.KeyNode, g.Name(target), logger.KeyError, rerr)
			}
		}
		return nil, err
	}

	tracker := iostat.New()
	if err := g.SetIOObserver(filter, tracker.Record); err != nil {
		return nil, err
	}

	j := &Job{
		id:          opts.JobID,
		g:           g,
		target:      target,
		opts:        opts,
		baseOverlay: baseOverlay,
		aboveBase:   aboveBase,
		filter:      filter,
		host:        jobs.NewHost(),
		limiter:     jobs.NewLimiter(opts.Speed),
		tracker:     tracker,
		throttle: throttle.New(throttle.Config{
			Enabled:       opts.Adaptive,
			Threshold:     opts.AdaptiveThreshold,
			PauseDuration: opts.PauseDuration,
		}),
		metrics:     opts.Metrics,
		wasReadOnly: wasReadOnly,
	}

	logger.Info("stream job created",
		logger.KeyJob, j.id,
		logger.KeyNode, g.Name(target),
		"base_overlay", g.Name(baseOverlay))
	return j, nil
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// TargetName returns the name of the image being streamed into.
func (j *Job) TargetName() string { return j.g.Name(j.target) }

// Progress returns the loop offset and the total length being streamed.
func (j *Job) Progress() (offset, total int64) { return j.host.Progress() }

// BytesCopied returns the number of bytes actually copied out of the backing
// chain, excluding chunks that were already present or absent everywhere.
func (j *Job) BytesCopied() int64 { return j.copied.Load() }

// Cancel requests cooperative cancellation.
func (j *Job) Cancel() { j.host.Cancel() }

// Cancelled reports whether cancellation has been requested.
func (j *Job) Cancelled() bool { return j.host.Cancelled() }

// Resume lifts a stop-mode pause so the failed chunk is retried.
func (j *Job) Resume() { j.host.Resume() }

// Paused reports whether the job is paused and the error that paused it.
func (j *Job) Paused() (bool, error) { return j.host.Paused() }

// Run executes the job to completion: the copy loop, then the backing-chain
// splice when the loop finished cleanly, then cleanup. Cleanup (dropping the
// filter and restoring the target's read-only state) always runs. A
// cancelled job and a job whose loop reported an error skip the splice; so
// does a loop that ignored errors, since the data below may be incomplete.
func (j *Job) Run(ctx context.Context) error {
	j.metrics.JobStarted()
	defer j.metrics.JobFinished()

	streamed, err := j.run(ctx)
	if err == nil && streamed && !j.host.Cancelled() {
		if cerr := j.commit(); cerr != nil {
			err = &CommitError{Err: cerr}
		}
	}
	j.clean()

	if err != nil {
		logger.Error("stream job failed",
			logger.KeyJob, j.id, logger.KeyError, err)
	} else if j.host.Cancelled() {
		logger.Info("stream job cancelled", logger.KeyJob, j.id)
	} else {
		logger.Info("stream job finished",
			logger.KeyJob, j.id, logger.KeyBytes, j.copied.Load())
	}
	return err
}

// run is the copy loop. It returns the job's result error and whether a
// splice is warranted (false when the target already sat directly on the
// base overlay, where there is nothing to stream and nothing to rewrite).
func (j *Job) run(ctx context.Context) (streamed bool, err error) {
	unfiltered := j.g.SkipFilters(j.target)
	if unfiltered == j.baseOverlay {
		return false, nil
	}

	length, err := j.g.Length(j.target)
	if err != nil {
		return false, err
	}
	j.host.SetRemaining(length)

	if j.throttle.NeedsCalibration() {
		logger.Info("calibrating adaptive threshold", logger.KeyJob, j.id)
		if err := j.throttle.Calibrate(ctx, j.host.Sleep, j.tracker); err != nil {
			if errors.Is(err, jobs.ErrCancelled) {
				return false, nil
			}
			return false, err
		}
		j.metrics.ObserveCalibration(j.throttle.Threshold())
	}

	var firstErr error
	var n int64
	for offset := int64(0); offset < length; offset += n {
		n = 0

		// The rate-limit sleep runs every iteration, even without a
		// configured limit: it is the loop's one guaranteed suspension
		// point with no I/O in flight.
		if err := j.limiter.Sleep(ctx, j.host); err != nil {
			break
		}
		if j.host.Cancelled() {
			break
		}

		if j.throttle.Enabled() {
			paused, perr := j.throttle.MaybePause(ctx, j.host.Sleep, j.tracker)
			if perr != nil {
				if errors.Is(perr, jobs.ErrCancelled) {
					break
				}
				return true, perr
			}
			if paused {
				j.metrics.ObservePause()
			}
		}

		var copyNeeded bool
		classification := metrics.ChunkPresentInTop

		alloc, run, opErr := j.g.IsAllocated(unfiltered, offset, ChunkSize)
		if opErr == nil {
			n = run
			if !alloc {
				var above bool
				above, run, opErr = j.g.IsAllocatedAbove(
					j.g.BackingChild(unfiltered), j.baseOverlay, offset, n)
				if opErr == nil {
					n = run
					if !above && n == 0 {
						// Past the end of every backing image: the rest of
						// the target reads as zeroes.
						n = length - offset
					}
					copyNeeded = above
					classification = metrics.ChunkAbsent
				}
			}
		}
		if opErr == nil && copyNeeded {
			classification = metrics.ChunkCopied
			opErr = j.g.Prefetch(j.filter, offset, n)
		}

		if opErr != nil {
			j.metrics.ObserveChunk(metrics.ChunkFailed, 0)
			action := jobs.ActionFor(j.opts.OnError, true, opErr)
			if action == jobs.ActionStop {
				logger.Warn("copy failed, pausing job",
					logger.KeyJob, j.id,
					logger.KeyOffset, offset,
					logger.KeyError, opErr)
				j.host.Pause(opErr)
				n = 0
				continue
			}
			if firstErr == nil {
				firstErr = opErr
			}
			if action == jobs.ActionReport {
				break
			}
		} else {
			j.metrics.ObserveChunk(classification, n)
			if copyNeeded {
				j.copied.Add(n)
			}
		}

		j.host.Update(n)
		if copyNeeded {
			j.limiter.RecordProcessed(n)
		}
	}

	return true, firstErr
}

// commit splices the chain: the interposing filter is dropped and the
// target's backing link is rewritten to the node below the streamed range.
// The affected nodes are drained across the rewrite.
func (j *Job) commit() error {
	unfiltered := j.g.SkipFilters(j.target)

	if j.filter != graph.None {
		if err := j.g.DropFilter(j.filter); err != nil {
			return err
		}
		j.filter = graph.None
	}

	cow := j.g.BackingChild(unfiltered)
	if cow == graph.None {
		return nil
	}

	j.g.DrainBegin(unfiltered)
	defer j.g.DrainEnd(unfiltered)
	j.g.DrainBegin(cow)
	defer j.g.DrainEnd(cow)

	base := j.g.FilterOrBacking(j.aboveBase)
	unfilteredBase := j.g.SkipFilters(base)

	var refName, refFormat string
	if unfilteredBase != graph.None {
		refName = j.opts.BackingFile
		if refName == "" {
			refName = j.g.Name(unfilteredBase)
		}
		refFormat = j.g.Format(unfilteredBase)
		if j.opts.BackingMaskProtocol && j.g.IsProtocol(unfilteredBase) {
			refFormat = "raw"
		}
	}

	if err := j.g.SetBackingRef(unfiltered, base, refName, refFormat); err != nil {
		return err
	}

	logger.Info("backing chain spliced",
		logger.KeyJob, j.id,
		logger.KeyNode, j.g.Name(unfiltered),
		"backing", refName)
	return nil
}

// clean drops the filter if it is still in place and restores the target's
// read-only state. It runs on every exit path, including failed and
// cancelled jobs.
func (j *Job) clean() {
	if j.filter != graph.None {
		if err := j.g.DropFilter(j.filter); err != nil {
			logger.Warn("failed to drop stream filter",
				logger.KeyJob, j.id, logger.KeyError, err)
		}
		j.filter = graph.None
	}
	if j.wasReadOnly {
		if err := j.g.ReopenReadOnly(j.target, true); err != nil {
			logger.Warn("failed to restore read-only state",
				logger.KeyJob, j.id,
				logger.KeyNode, j.g.Name(j.target),
				logger.KeyError, err)
		}
	}
}
