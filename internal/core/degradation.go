package core

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Consecutive all-failed cycles before the pipeline stops calling the remote
// classifier.
const degradationThreshold = 3

// DegradationController tracks consecutive full-cycle classification failure
// and switches the pipeline between normal and rules-only operation. A cycle
// counts as failed only when every message that required full classification
// failed; auto-ruled and thread-inherited messages never factor in.
type DegradationController struct {
	mu                  sync.Mutex
	consecutiveFailures int
	mode                PipelineMode
	lastSuccess         time.Time
	drainRequested      bool
	logger              *zap.Logger
	now                 func() time.Time
}

// NewDegradationController creates a controller in normal mode.
func NewDegradationController(logger *zap.Logger) *DegradationController {
	return &DegradationController{
		mode:   ModeNormal,
		logger: logger,
		now:    time.Now,
	}
}

// Restore re-seeds the controller from persisted pipeline state at startup.
func (d *DegradationController) Restore(state *PipelineState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.consecutiveFailures = state.ConsecutiveFailures
	d.lastSuccess = state.LastSuccess
	if state.Mode == ModeRulesOnly {
		d.mode = ModeRulesOnly
	} else {
		d.mode = ModeNormal
	}
}

// Mode returns the current operating mode.
func (d *DegradationController) Mode() PipelineMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// ObserveCycle ingests one cycle's full-classification outcome. attempted is
// the number of messages that went to the remote classifier, succeeded how
// many of those produced a result. It returns true when the controller just
// left rules-only mode and the queued backlog should be drained.
func (d *DegradationController) ObserveCycle(attempted, succeeded int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attempted == 0 {
		// Nothing needed the classifier; says nothing about its health.
		return false
	}

	if succeeded > 0 {
		d.lastSuccess = d.now()
		d.consecutiveFailures = 0
		if d.mode == ModeRulesOnly {
			d.mode = ModeNormal
			d.drainRequested = true
			d.logger.Info("Classifier recovered, leaving rules-only mode")
			return true
		}
		return false
	}

	d.consecutiveFailures++
	if d.mode == ModeNormal && d.consecutiveFailures >= degradationThreshold {
		d.mode = ModeRulesOnly
		d.logger.Warn("Entering rules-only mode after consecutive failed cycles",
			zap.Int("consecutive_failures", d.consecutiveFailures))
	}
	return false
}

// TakeDrainRequest consumes the pending backlog-drain request, if any.
func (d *DegradationController) TakeDrainRequest() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	requested := d.drainRequested
	d.drainRequested = false
	return requested
}

// Snapshot exports the controller state for persistence.
func (d *DegradationController) Snapshot() (failures int, mode PipelineMode, lastSuccess time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures, d.mode, d.lastSuccess
}
