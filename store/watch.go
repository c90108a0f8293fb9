package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"videothingy/client-engine/models"
)

// pollSub re-runs a query on a fixed interval and delivers snapshots that
// differ from the previous delivery. It stands in for a push channel: the
// Subscription contracts let a realtime-backed implementation replace it
// without touching the engines.
type pollSub[T any] struct {
	ch     chan []T
	cancel context.CancelFunc
	once   sync.Once
}

func (p *pollSub[T]) Snapshots() <-chan []T { return p.ch }

func (p *pollSub[T]) Close() {
	p.once.Do(p.cancel)
}

// startPoll owns the poll loop. The snapshot channel is closed once the
// subscription is cancelled, so consumers can range over it.
func startPoll[T any](ctx context.Context, interval time.Duration, logger *logrus.Logger, fetch func(context.Context) ([]T, error)) *pollSub[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &pollSub[T]{ch: make(chan []T, 1), cancel: cancel}

	go func() {
		defer close(p.ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []T
		var delivered bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			snap, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Warn("watch poll failed")
				continue
			}
			if delivered && reflect.DeepEqual(last, snap) {
				continue
			}
			last = snap
			delivered = true

			// Single producer: replace a stale pending snapshot rather
			// than blocking on a slow consumer.
			select {
			case p.ch <- snap:
			default:
				select {
				case <-p.ch:
				default:
				}
				p.ch <- snap
			}
		}
	}()

	return p
}

// WatchVideos establishes a standing watch over the query window. Snapshots
// arrive whenever the window's contents change.
func (s *Supabase) WatchVideos(ctx context.Context, q FeedQuery) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return startPoll(ctx, s.interval, s.logger, func(ctx context.Context) ([]models.VideoRecord, error) {
		page, err := s.FetchVideoPage(ctx, q)
		if err != nil {
			return nil, err
		}
		return page.Videos, nil
	}), nil
}

// WatchComments establishes a standing watch over a video's comment list.
func (s *Supabase) WatchComments(ctx context.Context, videoID string) (CommentSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return startPoll(ctx, s.interval, s.logger, func(ctx context.Context) ([]models.CommentRecord, error) {
		return s.ListComments(ctx, videoID)
	}), nil
}
