package service

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// NopEventSink discards events.
type NopEventSink struct{}

// SessionEvent does nothing.
func (NopEventSink) SessionEvent(context.Context, model.SessionEvent) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// SessionEvent delivers ev to each sink.
func (m MultiSink) SessionEvent(ctx context.Context, ev model.SessionEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.SessionEvent(ctx, ev)
		}
	}
}
