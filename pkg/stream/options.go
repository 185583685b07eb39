package stream

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/chainstream/pkg/graph"
	"github.com/marmos91/chainstream/pkg/jobs"
	"github.com/marmos91/chainstream/pkg/metrics"
)

// DefaultPauseDuration is the adaptive-throttle pause applied when the
// caller does not configure one.
const DefaultPauseDuration = time.Second

var validate = validator.New()

// Options configures a streaming job.
type Options struct {
	// JobID identifies the job. Auto-generated when empty.
	JobID string

	// Base selects the streaming boundary: data at or below Base stays
	// referenced, everything above it is copied into the target. None
	// streams the entire chain. Mutually exclusive with Bottom.
	Base graph.NodeID

	// Bottom is the simple boundary interface: the lowest node whose data
	// is copied. Mutually exclusive with Base and BackingFile.
	Bottom graph.NodeID

	// BackingFile overrides the backing reference string written into the
	// target at commit time.
	BackingFile string

	// BackingMaskProtocol masks the committed backing format as "raw"
	// when the new base is a protocol-level driver.
	BackingMaskProtocol bool

	// FilterNodeName names the interposing copy-on-read filter. Unnamed
	// filters are marked implicit.
	FilterNodeName string

	// Speed caps copy throughput in bytes per second. 0 means unlimited.
	Speed int64 `validate:"gte=0"`

	// OnError selects the failure-action policy for loop errors.
	OnError jobs.ErrorMode

	// Adaptive enables the adaptive throttle.
	Adaptive bool

	// AdaptiveThreshold is the throttle threshold: values in [0, 1) are a
	// calibration percentage, values >= 1 an absolute IOPS threshold that
	// skips calibration.
	AdaptiveThreshold float64 `validate:"gte=0"`

	// PauseDuration is the sleep applied when the throttle trips.
	// Defaults to DefaultPauseDuration.
	PauseDuration time.Duration `validate:"gte=0"`

	// Metrics observes the job. May be nil.
	Metrics *metrics.StreamMetrics `validate:"-"`
}

func (o *Options) validateAndApplyDefaults() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid stream options: %w", err)
	}
	if o.Base != graph.None && o.Bottom != graph.None {
		return fmt.Errorf("base and bottom are mutually exclusive")
	}
	if o.Bottom != graph.None && o.BackingFile != "" {
		return fmt.Errorf("backing file override cannot be used with bottom")
	}
	if o.Adaptive && o.PauseDuration == 0 {
		o.PauseDuration = DefaultPauseDuration
	}
	return nil
}
