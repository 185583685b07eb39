// Package throttle implements the adaptive back-pressure used by streaming
// jobs: a target IOPS threshold is calibrated from live throughput samples,
// and the copy loop pauses whenever foreground demand exceeds it.
package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/chainstream/internal/logger"
	"github.com/marmos91/chainstream/pkg/iostat"
)

// CalibrationInterval is the sleep between calibration samples. It is an
// independent constant, not derived from the configured pause duration.
const CalibrationInterval = 5 * time.Second

// calibrationSamples is the number of throughput samples averaged into the
// threshold. Calibration is a one-time cost at the start of streaming.
const calibrationSamples = 3

// ErrNotCalibrated is returned by MaybePause when the throttle is enabled
// but no threshold has been established yet.
var ErrNotCalibrated = errors.New("throttle: threshold not calibrated")

// SleepFunc suspends the calling job for d, returning early with an error
// when the job is cancelled. Job hosts provide this so throttle sleeps are
// pause and cancellation points.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config configures a Throttle.
type Config struct {
	// Enabled turns adaptive throttling on.
	Enabled bool

	// Threshold has a dual meaning kept for compatibility with the
	// original option surface: a value in [0, 1) is the calibration
	// percentage applied to measured throughput; a value >= 1 is an
	// absolute IOPS threshold and skips calibration entirely.
	Threshold float64

	// PauseDuration is how long the copy loop sleeps when live throughput
	// exceeds the threshold.
	PauseDuration time.Duration
}

// Throttle holds the adaptive-throttle state for one streaming job. It is
// owned exclusively by the job and never shared.
type Throttle struct {
	enabled    bool
	threshold  float64
	pause      time.Duration
	calibrated bool

	// interval is CalibrationInterval unless shortened by tests.
	interval time.Duration
}

// New creates a Throttle. A threshold >= 1 is taken as an absolute IOPS
// value and the throttle starts out calibrated.
func New(cfg Config) *Throttle {
	t := &Throttle{
		enabled:  cfg.Enabled,
		pause:    cfg.PauseDuration,
		interval: CalibrationInterval,
	}
	if cfg.Threshold >= 1 {
		t.threshold = cfg.Threshold
		t.calibrated = true
	} else {
		t.threshold = cfg.Threshold // calibration percentage for Calibrate
	}
	return t
}

// Enabled reports whether adaptive throttling is on.
func (t *Throttle) Enabled() bool { return t.enabled }

// Calibrated reports whether a usable threshold has been established.
func (t *Throttle) Calibrated() bool { return t.calibrated }

// Threshold returns the current IOPS threshold. Meaningful only once
// Calibrated reports true.
func (t *Throttle) Threshold() float64 { return t.threshold }

// NeedsCalibration reports whether Calibrate must run before MaybePause.
func (t *Throttle) NeedsCalibration() bool {
	return t.enabled && !t.calibrated
}

// Calibrate derives the IOPS threshold from live throughput. It takes
// calibrationSamples samples, sleeping the calibration interval before each
// one, and sets the threshold to the mean of sample×percentage. The sleeps
// are cancellable suspension points.
func (t *Throttle) Calibrate(ctx context.Context, sleep SleepFunc, tracker *iostat.Tracker) error {
	if !t.NeedsCalibration() {
		return nil
	}

	pct := t.threshold
	var sum float64
	for i := 0; i < calibrationSamples; i++ {
		if err := sleep(ctx, t.interval); err != nil {
			return err
		}
		sum += tracker.Sample() * pct
	}

	t.threshold = sum / calibrationSamples
	t.calibrated = true

	logger.Info("adaptive threshold calibrated",
		logger.KeyThreshold, t.threshold,
		"percentage", pct)
	return nil
}

// MaybePause samples live throughput and, when it exceeds the calibrated
// threshold, sleeps the configured pause duration before returning. This is
// advisory back-pressure: it only delays the next copy, never aborts the
// job. It reports whether a pause happened.
func (t *Throttle) MaybePause(ctx context.Context, sleep SleepFunc, tracker *iostat.Tracker) (bool, error) {
	if !t.enabled {
		return false, nil
	}
	if !t.calibrated {
		return false, ErrNotCalibrated
	}

	iops := tracker.Sample()
	if iops <= t.threshold {
		return false, nil
	}

	logger.Debug("throughput above threshold, pausing copy",
		logger.KeyIOPS, iops,
		logger.KeyThreshold, t.threshold,
		"pause", t.pause)

	if err := sleep(ctx, t.pause); err != nil {
		return false, err
	}
	return true, nil
}
