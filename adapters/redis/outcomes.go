package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flashbots/launch-bundler/bundler"
	"github.com/redis/go-redis/v9"
)

// OutcomePublisher publishes every tick summary to a pub/sub channel for operator dashboards
type OutcomePublisher struct {
	client     *redis.Client
	pubChannel string
}

func NewOutcomePublisher(client *redis.Client, pubChannel string) *OutcomePublisher {
	return &OutcomePublisher{
		client:     client,
		pubChannel: pubChannel,
	}
}

func (p *OutcomePublisher) RecordOutcome(ctx context.Context, outcome *bundler.TickOutcome) error {
	data, err := json.Marshal(outcome.Summary())
	if err != nil {
		return err
	}

	back := backoff.NewExponentialBackOff()
	back.InitialInterval = 50 * time.Millisecond
	back.MaxElapsedTime = time.Second
	return backoff.Retry(func() error {
		return p.client.Publish(ctx, p.pubChannel, data).Err()
	}, backoff.WithContext(back, ctx))
}
