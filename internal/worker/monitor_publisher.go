package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const publishTimeout = 500 * time.Millisecond

// MonitorPublisher fans lifecycle events out on the instance's Redis
// channel, where teacher monitor streams pick them up.
type MonitorPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorPublisher creates a new MonitorPublisher.
func NewMonitorPublisher(rdb *redis.Client, log zerolog.Logger) *MonitorPublisher {
	return &MonitorPublisher{
		rdb: rdb,
		log: log.With().Str("component", "monitor_publisher").Logger(),
	}
}

// SessionEvent publishes ev. Failures are logged and never reach the caller.
func (p *MonitorPublisher) SessionEvent(ctx context.Context, ev model.SessionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode session event")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	channel := config.CacheKey.InstanceMonitorChannel(ev.ExamInstanceID.String())
	if err := p.rdb.Publish(pubCtx, channel, data).Err(); err != nil {
		p.log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Msg("Failed to publish session event")
	}
}
