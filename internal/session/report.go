package session

import (
	"time"

	"github.com/chiba-lab/3DTracker/internal/pipeline"
)

// Report is the post-session summary returned to the operator.
type Report struct {
	SessionID string
	StartedAt time.Time
	StoppedAt time.Time
	Streams   []pipeline.StreamReport
}

// UnderDelivered lists the streams whose achieved rate fell materially
// below target (round(achieved) < target).
func (r *Report) UnderDelivered() []pipeline.StreamReport {
	var short []pipeline.StreamReport
	for _, s := range r.Streams {
		if s.UnderDelivered {
			short = append(short, s)
		}
	}
	return short
}

func (c *Controller) report() *Report {
	c.mu.Lock()
	started, stopped := c.startTime, c.stopTime
	c.mu.Unlock()

	return &Report{
		SessionID: c.id,
		StartedAt: started,
		StoppedAt: stopped,
		Streams:   c.streamReports(),
	}
}
