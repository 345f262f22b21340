package main

import (
	"context"

	conotel "github.com/Strob0t/Conductor/internal/adapter/otel"
	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/broadcast"
)

// instrumentedCaster counts pipeline events as they pass through to the
// WebSocket hub.
type instrumentedCaster struct {
	next    broadcast.Broadcaster
	metrics *conotel.Metrics
}

var _ broadcast.Broadcaster = (*instrumentedCaster)(nil)

func newInstrumentedCaster(next broadcast.Broadcaster, metrics *conotel.Metrics) *instrumentedCaster {
	return &instrumentedCaster{next: next, metrics: metrics}
}

func (c *instrumentedCaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	switch eventType {
	case "run.accepted":
		c.metrics.RunsStarted.Add(ctx, 1)
	case "stage":
		if fields, ok := payload.(map[string]string); ok {
			switch fields["status"] {
			case "completed":
				if fields["stage"] == string(pipeline.StageCompleted) {
					c.metrics.RunsCompleted.Add(ctx, 1)
				}
			case "failed":
				c.metrics.RunsFailed.Add(ctx, 1)
			case "skipped":
				c.metrics.StagesSkipped.Add(ctx, 1)
			}
		}
	}
	c.next.BroadcastEvent(ctx, eventType, payload)
}
