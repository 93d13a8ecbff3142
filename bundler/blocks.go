package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type BlockNumberSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// BlockListener is the only producer of block ticks.
// It uses new head subscriptions when possible and falls back to polling.
type BlockListener struct {
	log          *zap.Logger
	source       BlockNumberSource
	pollInterval time.Duration

	last uint64
}

func NewBlockListener(log *zap.Logger, source BlockNumberSource, pollInterval time.Duration) *BlockListener {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &BlockListener{
		log:          log.Named("blocks"),
		source:       source,
		pollInterval: pollInterval,
	}
}

// Start emits strictly increasing block numbers until ctx is done.
// The channel holds at most one unconsumed block and a newer block replaces it.
func (l *BlockListener) Start(ctx context.Context) <-chan uint64 {
	out := make(chan uint64, 1)
	go func() {
		defer close(out)

		if sub, ok := l.source.(HeadSubscriber); ok {
			err := l.subscribeLoop(ctx, sub, out)
			if err == nil || ctx.Err() != nil {
				return
			}
			l.log.Warn("New head subscription unavailable, polling instead", zap.Error(err))
		}
		l.pollLoop(ctx, out)
	}()
	return out
}

func (l *BlockListener) emit(out chan uint64, block uint64) {
	if block <= l.last {
		return
	}
	l.last = block
	select {
	case out <- block:
		return
	default:
	}
	select {
	case stale := <-out:
		l.log.Debug("Dropping unconsumed block", zap.Uint64("block", stale), zap.Uint64("newer", block))
	default:
	}
	out <- block
}

// subscribeLoop returns an error only if the very first subscription fails
func (l *BlockListener) subscribeLoop(ctx context.Context, sub HeadSubscriber, out chan uint64) error {
	first := true
	for {
		heads := make(chan *types.Header, 16)
		var subscription ethereum.Subscription
		err := backoff.Retry(func() error {
			var err error
			subscription, err = sub.SubscribeNewHead(ctx, heads)
			if err != nil && first {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
		if err != nil {
			if first {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error("Failed to resubscribe to new heads", zap.Error(err))
			return err
		}
		first = false

		err = l.consumeHeads(ctx, subscription, heads, out)
		subscription.Unsubscribe()
		if err == nil {
			return nil
		}
		l.log.Warn("New head subscription dropped, resubscribing", zap.Error(err))
	}
}

func (l *BlockListener) consumeHeads(ctx context.Context, subscription ethereum.Subscription, heads chan *types.Header, out chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-subscription.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case head := <-heads:
			if head == nil || head.Number == nil {
				continue
			}
			l.emit(out, head.Number.Uint64())
		}
	}
}

func (l *BlockListener) pollLoop(ctx context.Context, out chan uint64) {
	back := backoff.NewExponentialBackOff()
	back.InitialInterval = l.pollInterval / 4
	back.MaxInterval = l.pollInterval
	back.MaxElapsedTime = 5 * l.pollInterval

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		var block uint64
		err := backoff.Retry(func() error {
			var err error
			block, err = l.source.BlockNumber(ctx)
			return err
		}, backoff.WithContext(back, ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("Failed to get block number", zap.Error(err))
		} else {
			l.emit(out, block)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
