// Package feed maintains a locally materialized, ordered feed of video
// records: cursor-based forward pagination plus a live subscription that
// keeps the first page (the head window) in sync.
package feed

import (
	"context"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"videothingy/client-engine/auth"
	"videothingy/client-engine/config"
	"videothingy/client-engine/models"
	"videothingy/client-engine/store"
)

// Tab selects which feed variant the synchronizer materializes.
type Tab int

const (
	TabFollowing Tab = 0
	TabForYou    Tab = 1
)

// QueryModifier shapes the Following-tab query. The semantics are an
// explicit extension point owned by the embedding app, not a baked-in rule.
type QueryModifier func(q store.FeedQuery) store.FeedQuery

// Snapshot is an immutable view of the synchronizer state, delivered to
// observers and returned by Snapshot().
type Snapshot struct {
	Videos      []models.VideoRecord
	Loading     bool
	LoadingMore bool
	Exhausted   bool
	Tab         Tab
	LastError   error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithFollowingModifier injects the Following-tab query modifier.
func WithFollowingModifier(m QueryModifier) Option {
	return func(s *Synchronizer) { s.modifier = m }
}

// Synchronizer owns the feed state exclusively and serializes every state
// write behind one mutex. Entry points that find a busy flag set return
// immediately; racing callers are ignored, never queued.
type Synchronizer struct {
	videos   store.VideoStore
	sessions auth.SessionProvider
	logger   *logrus.Logger
	cfg      config.Config
	modifier QueryModifier

	mu          sync.Mutex
	items       []models.VideoRecord
	cursor      *store.Cursor
	loading     bool
	loadingMore bool
	exhausted   bool
	lastErr     error
	tab         Tab

	sub     store.Subscription
	subDone chan struct{}

	obsMu     sync.Mutex
	observers map[int]chan Snapshot
	nextObs   int
}

// NewSynchronizer builds a synchronizer on the For You tab. Call
// LoadInitial to populate it.
func NewSynchronizer(videos store.VideoStore, sessions auth.SessionProvider, cfg config.Config, logger *logrus.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		videos:    videos,
		sessions:  sessions,
		logger:    logger,
		cfg:       cfg,
		tab:       TabForYou,
		observers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// baseQueryLocked builds the page query for the active tab. Callers hold mu.
func (s *Synchronizer) baseQueryLocked(after *store.Cursor) store.FeedQuery {
	q := store.FeedQuery{
		SortKey:  store.SortKey(s.cfg.FeedSortKey),
		Statuses: []string{models.VideoStatusProcessing, models.VideoStatusProcessed},
		Limit:    s.cfg.PageSize,
		After:    after,
	}
	if s.tab == TabFollowing && s.modifier != nil {
		q = s.modifier(q)
	}
	return q
}

// LoadInitial fetches the first page, replaces the materialized list
// wholesale, and (re)establishes the live subscription over the same
// first-page window. A no-op while a load is already running. The loading
// flag clears on every exit path.
func (s *Synchronizer) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	q := s.baseQueryLocked(nil)
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.notify()
	}()

	s.logger.WithField("page_size", q.Limit).Info("fetching initial video batch")
	page, err := s.videos.FetchVideoPage(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("fetching initial videos failed")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.items = append([]models.VideoRecord(nil), page.Videos...)
	s.cursor = page.Next
	s.exhausted = len(page.Videos) == 0
	s.mu.Unlock()

	s.resubscribe(q)
	s.logger.WithField("count", len(page.Videos)).Info("initial videos loaded")
	return nil
}

// LoadMore appends the next page. A no-op while loading, already loading
// more, exhausted, or before any page has been fetched.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || s.loadingMore || s.exhausted || s.cursor == nil {
		s.logger.WithFields(logrus.Fields{
			"loading":      s.loading,
			"loading_more": s.loadingMore,
			"exhausted":    s.exhausted,
			"has_cursor":   s.cursor != nil,
		}).Debug("skipping load more")
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = true
	q := s.baseQueryLocked(s.cursor)
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.loadingMore = false
		s.mu.Unlock()
		s.notify()
	}()

	s.logger.WithField("after_id", q.After.LastID).Info("loading more videos")
	page, err := s.videos.FetchVideoPage(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("loading more videos failed")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.items = appendDedup(s.items, page.Videos)
	if page.Next != nil {
		s.cursor = page.Next
	}
	if len(page.Videos) < q.Limit {
		s.exhausted = true
	}
	s.mu.Unlock()

	s.logger.WithField("count", len(page.Videos)).Info("loaded more videos")
	return nil
}

// Refresh tears down the live subscription, resets the cursor, and reloads
// the first page. The old subscription is fully cancelled before LoadInitial
// establishes a new one.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.logger.Info("refreshing video feed")
	s.unsubscribe()

	s.mu.Lock()
	s.cursor = nil
	s.exhausted = false
	s.mu.Unlock()

	return s.LoadInitial(ctx)
}

// SetTab switches the active tab and refreshes. A no-op when unchanged.
func (s *Synchronizer) SetTab(ctx context.Context, tab Tab) error {
	s.mu.Lock()
	if tab == s.tab {
		s.mu.Unlock()
		return nil
	}
	s.tab = tab
	s.mu.Unlock()

	s.logger.WithField("tab", int(tab)).Info("switching feed tab")
	return s.Refresh(ctx)
}

// ToggleLike flips the caller's like on a video. The cached counter moves
// only after the remote transaction commits; on failure no local state
// changes and the error propagates.
func (s *Synchronizer) ToggleLike(ctx context.Context, videoID string) (bool, error) {
	userID, err := s.sessions.CurrentUserID()
	if err != nil {
		return false, err
	}

	liked, err := s.videos.ToggleVideoLike(ctx, videoID, userID)
	if err != nil {
		s.logger.WithError(err).WithField("video_id", videoID).Error("toggling video like failed")
		return false, err
	}

	delta := int64(-1)
	if liked {
		delta = 1
	}
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == videoID {
			s.items[i].LikeCount += delta
			break
		}
	}
	s.mu.Unlock()
	s.notify()
	return liked, nil
}

// resubscribe replaces the live subscription with a fresh watch over the
// first-page window.
func (s *Synchronizer) resubscribe(q store.FeedQuery) {
	s.unsubscribe()

	sub, err := s.videos.WatchVideos(context.Background(), q)
	if err != nil {
		s.logger.WithError(err).Error("establishing feed subscription failed")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.sub = sub
	s.subDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for snap := range sub.Snapshots() {
			s.applyHead(snap)
		}
	}()
	s.logger.Debug("feed subscription established")
}

// unsubscribe cancels the live subscription and waits for its forwarder to
// drain, so a refresh can never leave a duplicate watcher behind.
func (s *Synchronizer) unsubscribe() {
	s.mu.Lock()
	sub, done := s.sub, s.subDone
	s.sub, s.subDone = nil, nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
	s.logger.Debug("removed feed subscription")
}

// applyHead merges a live snapshot of K records into the head window:
// exactly the first K items are replaced, items beyond the window stay
// static until the next refresh.
func (s *Synchronizer) applyHead(snap []models.VideoRecord) {
	if len(snap) == 0 {
		return
	}

	s.mu.Lock()
	if len(snap) > s.cfg.PageSize {
		snap = snap[:s.cfg.PageSize]
	}
	if len(s.items) >= len(snap) && sameRecords(s.items[:len(snap)], snap) {
		s.mu.Unlock()
		return
	}
	var tail []models.VideoRecord
	if len(s.items) > len(snap) {
		tail = s.items[len(snap):]
	}
	s.items = append(append([]models.VideoRecord(nil), snap...), tail...)
	s.mu.Unlock()

	s.logger.WithField("count", len(snap)).Info("applied realtime head update")
	s.notify()
}

// Snapshot returns an immutable copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Videos:      append([]models.VideoRecord(nil), s.items...),
		Loading:     s.loading,
		LoadingMore: s.loadingMore,
		Exhausted:   s.exhausted,
		Tab:         s.tab,
		LastError:   s.lastErr,
	}
}

// Cursor returns the current pagination cursor; nil means start of feed.
func (s *Synchronizer) Cursor() *store.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return nil
	}
	c := *s.cursor
	return &c
}

// Subscribe registers an observer. The returned cancel func unregisters it
// and closes the channel. Slow observers miss intermediate snapshots rather
// than blocking the engine.
func (s *Synchronizer) Subscribe() (<-chan Snapshot, func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	ch := make(chan Snapshot, 1)
	s.observers[id] = ch
	s.obsMu.Unlock()

	return ch, func() {
		s.obsMu.Lock()
		if c, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(c)
		}
		s.obsMu.Unlock()
	}
}

// Close tears down the subscription and all observers.
func (s *Synchronizer) Close() {
	s.unsubscribe()
	s.obsMu.Lock()
	for id, ch := range s.observers {
		delete(s.observers, id)
		close(ch)
	}
	s.obsMu.Unlock()
}

func (s *Synchronizer) notify() {
	snap := s.Snapshot()
	s.obsMu.Lock()
	for _, ch := range s.observers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	s.obsMu.Unlock()
}

// appendDedup appends new records, skipping ids already materialized: a live
// head update racing a page fetch can otherwise surface the same id twice.
func appendDedup(items, batch []models.VideoRecord) []models.VideoRecord {
	seen := make(map[string]struct{}, len(items))
	for _, v := range items {
		seen[v.ID] = struct{}{}
	}
	for _, v := range batch {
		if _, ok := seen[v.ID]; ok {
			continue
		}
		items = append(items, v)
	}
	return items
}

func sameRecords(a, b []models.VideoRecord) bool {
	return reflect.DeepEqual(a, b)
}
