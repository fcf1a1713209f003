package engine

import (
	"context"
	"sync/atomic"

	"adgate/core"
)

// EngagementCounter counts user interactions for the lifetime of the process.
type EngagementCounter struct {
	n   atomic.Int64
	bus *EventBus
}

func NewEngagementCounter(bus *EventBus) *EngagementCounter {
	return &EngagementCounter{bus: bus}
}

// Record adds one engagement and returns the new count.
func (c *EngagementCounter) Record(ctx context.Context) int64 {
	v := c.n.Add(1)
	if c.bus != nil {
		c.bus.Publish(ctx, core.NewEngagementRecorded(v))
	}
	return v
}

func (c *EngagementCounter) Count() int64 { return c.n.Load() }
