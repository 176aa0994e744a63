package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetkit/booking-webhooks/internal/engine"
)

// Poller continuously pulls ready delivery jobs from the Redis sorted set
// and hands them to the worker pool.
type Poller struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewPoller(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Poller {
	return &Poller{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("delivery poller started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delivery poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches a batch of jobs whose ready-time has passed and submits them.
func (p *Poller) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := p.redisClient.ZRangeByScoreWithScores(ctx, engine.DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: p.batchSize,
	}).Result()
	if err != nil {
		p.logger.Error("failed to poll delivery queue", "error", err)
		return
	}

	for _, z := range results {
		member := z.Member.(string)

		// ZRem returns 0 if another poller instance already claimed the job
		removed, err := p.redisClient.ZRem(ctx, engine.DeliveryQueueKey, member).Result()
		if err != nil {
			p.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job engine.DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			p.logger.Error("failed to unmarshal job", "error", err)
			continue
		}

		p.pool.Submit(job)
	}
}
