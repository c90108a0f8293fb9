package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videothingy/client-engine/config"
	"videothingy/client-engine/models"
	"videothingy/client-engine/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeSession struct {
	userID string
	err    error
}

func (f *fakeSession) CurrentUserID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.userID, nil
}

type fakeSub struct {
	ch     chan []models.VideoRecord
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan []models.VideoRecord, 1)}
}

func (s *fakeSub) Snapshots() <-chan []models.VideoRecord { return s.ch }

func (s *fakeSub) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeVideoStore struct {
	mu          sync.Mutex
	pages       [][]models.VideoRecord
	fetchCalls  []store.FeedQuery
	watches     []*fakeSub
	fetchErr    error
	toggleErr   error
	toggleCalls int
	liked       map[string]bool
}

func (f *fakeVideoStore) FetchVideoPage(_ context.Context, q store.FeedQuery) (store.VideoPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, q)
	if f.fetchErr != nil {
		return store.VideoPage{}, f.fetchErr
	}
	var vids []models.VideoRecord
	if len(f.pages) > 0 {
		vids = f.pages[0]
		f.pages = f.pages[1:]
	}
	page := store.VideoPage{Videos: vids}
	if len(vids) > 0 {
		last := vids[len(vids)-1]
		page.Next = &store.Cursor{
			SortValue: strconv.FormatFloat(last.EngagementScore, 'f', -1, 64),
			LastID:    last.ID,
		}
	}
	return page, nil
}

func (f *fakeVideoStore) WatchVideos(context.Context, store.FeedQuery) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := newFakeSub()
	f.watches = append(f.watches, sub)
	return sub, nil
}

func (f *fakeVideoStore) ToggleVideoLike(_ context.Context, videoID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggleCalls++
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	if f.liked == nil {
		f.liked = make(map[string]bool)
	}
	f.liked[videoID] = !f.liked[videoID]
	return f.liked[videoID], nil
}

func (f *fakeVideoStore) GetVideo(context.Context, string) (*models.VideoRecord, error) {
	return nil, models.ErrRecordNotFound
}

func (f *fakeVideoStore) InsertVideo(context.Context, models.VideoRecord) error { return nil }

func (f *fakeVideoStore) calls() []store.FeedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.FeedQuery(nil), f.fetchCalls...)
}

func makeVideos(prefix string, n int, topScore float64) []models.VideoRecord {
	out := make([]models.VideoRecord, n)
	for i := range out {
		out[i] = models.VideoRecord{
			ID:              fmt.Sprintf("%s-%d", prefix, i),
			Status:          models.VideoStatusProcessed,
			EngagementScore: topScore - float64(i),
		}
	}
	return out
}

func newTestSynchronizer(fs *fakeVideoStore, opts ...Option) *Synchronizer {
	return NewSynchronizer(fs, &fakeSession{userID: "user-1"}, config.Default(), testLogger(), opts...)
}

func TestLoadInitialPopulatesStateAndSubscribes(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := newTestSynchronizer(fs)
	defer s.Close()

	require.NoError(t, s.LoadInitial(context.Background()))

	snap := s.Snapshot()
	require.Len(t, snap.Videos, 5)
	assert.False(t, snap.Loading)
	assert.False(t, snap.Exhausted)
	assert.Equal(t, TabForYou, snap.Tab)

	cur := s.Cursor()
	require.NotNil(t, cur)
	assert.Equal(t, "a-4", cur.LastID)

	calls := fs.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, config.DefaultPageSize, calls[0].Limit)
	assert.Nil(t, calls[0].After)
	assert.ElementsMatch(t, []string{models.VideoStatusProcessing, models.VideoStatusProcessed}, calls[0].Statuses)
	require.Len(t, fs.watches, 1)
}

func TestLoadInitialEmptyFeedIsExhausted(t *testing.T) {
	fs := &fakeVideoStore{}
	s := newTestSynchronizer(fs)
	defer s.Close()

	require.NoError(t, s.LoadInitial(context.Background()))

	snap := s.Snapshot()
	assert.Empty(t, snap.Videos)
	assert.True(t, snap.Exhausted)
	assert.Nil(t, s.Cursor())
}

func TestLoadInitialErrorRecordsLastError(t *testing.T) {
	boom := errors.New("backend down")
	fs := &fakeVideoStore{fetchErr: boom}
	s := newTestSynchronizer(fs)
	defer s.Close()

	err := s.LoadInitial(context.Background())
	require.ErrorIs(t, err, boom)

	snap := s.Snapshot()
	assert.Empty(t, snap.Videos)
	assert.False(t, snap.Loading)
	assert.ErrorIs(t, snap.LastError, boom)
	assert.Empty(t, fs.watches)
}

func TestLoadMoreAppendsAndTracksCursor(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{
		makeVideos("a", 5, 100),
		makeVideos("b", 5, 90),
		makeVideos("c", 2, 80),
	}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	require.NoError(t, s.LoadMore(ctx))
	require.Len(t, s.Snapshot().Videos, 10)
	assert.Equal(t, "b-4", s.Cursor().LastID)
	assert.False(t, s.Snapshot().Exhausted)

	require.NoError(t, s.LoadMore(ctx))
	snap := s.Snapshot()
	require.Len(t, snap.Videos, 12)
	assert.True(t, snap.Exhausted)
	assert.Equal(t, "c-1", s.Cursor().LastID)

	calls := fs.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a-4", calls[1].After.LastID)
	assert.Equal(t, "b-4", calls[2].After.LastID)

	// Exhausted: further calls are ignored.
	require.NoError(t, s.LoadMore(ctx))
	assert.Len(t, fs.calls(), 3)
}

func TestLoadMoreNoOpBeforeInitialLoad(t *testing.T) {
	fs := &fakeVideoStore{}
	s := newTestSynchronizer(fs)
	defer s.Close()

	require.NoError(t, s.LoadMore(context.Background()))
	assert.Empty(t, fs.calls())
}

func TestLoadMoreDeduplicatesByID(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{
		makeVideos("a", 5, 100),
		{
			{ID: "a-4", Status: models.VideoStatusProcessed, EngagementScore: 96},
			{ID: "x-0", Status: models.VideoStatusProcessed, EngagementScore: 95},
		},
	}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	require.NoError(t, s.LoadMore(ctx))

	snap := s.Snapshot()
	require.Len(t, snap.Videos, 6)
	ids := make(map[string]int)
	for _, v := range snap.Videos {
		ids[v.ID]++
	}
	assert.Equal(t, 1, ids["a-4"])
	assert.Equal(t, 1, ids["x-0"])
}

func TestRefreshCancelsSubscriptionAndResetsCursor(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{
		makeVideos("a", 5, 100),
		makeVideos("b", 5, 90),
		makeVideos("c", 5, 80),
		makeVideos("d", 5, 70),
	}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Refresh(ctx))
	}

	require.Len(t, fs.watches, 4)
	for i := 0; i < 3; i++ {
		assert.True(t, fs.watches[i].isClosed(), "watch %d should be closed", i)
	}
	assert.False(t, fs.watches[3].isClosed())
}

func TestRefreshAfterExhaustionClearsCursor(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	require.NotNil(t, s.Cursor())

	// The refresh's initial load returns an empty feed.
	require.NoError(t, s.Refresh(ctx))
	assert.Nil(t, s.Cursor())
	assert.True(t, s.Snapshot().Exhausted)
}

func TestLiveSnapshotReplacesOnlyHeadWindow(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{
		makeVideos("a", 5, 100),
		makeVideos("b", 5, 90),
	}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	require.NoError(t, s.LoadMore(ctx))
	require.Len(t, s.Snapshot().Videos, 10)

	head := makeVideos("n", 3, 200)
	fs.watches[0].ch <- head

	require.Eventually(t, func() bool {
		return s.Snapshot().Videos[0].ID == "n-0"
	}, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Videos, 10)
	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("n-%d", i), snap.Videos[i].ID)
	}
	// Everything past index K-1 is untouched.
	assert.Equal(t, "a-3", snap.Videos[3].ID)
	assert.Equal(t, "a-4", snap.Videos[4].ID)
	assert.Equal(t, "b-4", snap.Videos[9].ID)
}

func TestLiveSnapshotIgnoresEmptyBatches(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := newTestSynchronizer(fs)
	defer s.Close()

	require.NoError(t, s.LoadInitial(context.Background()))
	fs.watches[0].ch <- nil

	// Push a real update afterwards to prove the empty batch was skipped.
	fs.watches[0].ch <- makeVideos("n", 1, 200)
	require.Eventually(t, func() bool {
		return s.Snapshot().Videos[0].ID == "n-0"
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Snapshot().Videos, 5)
}

func TestToggleLikeAdjustsCounterAfterCommit(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	before := s.Snapshot().Videos[0].LikeCount

	liked, err := s.ToggleLike(ctx, "a-0")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, before+1, s.Snapshot().Videos[0].LikeCount)

	liked, err = s.ToggleLike(ctx, "a-0")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, before, s.Snapshot().Videos[0].LikeCount)
}

func TestToggleLikeFailureLeavesCounterUntouched(t *testing.T) {
	boom := errors.New("transaction failed")
	fs := &fakeVideoStore{
		pages:     [][]models.VideoRecord{makeVideos("a", 5, 100)},
		toggleErr: boom,
	}
	s := newTestSynchronizer(fs)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	before := s.Snapshot().Videos[0].LikeCount

	_, err := s.ToggleLike(ctx, "a-0")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.Snapshot().Videos[0].LikeCount)
}

func TestToggleLikeRequiresSession(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := NewSynchronizer(fs, &fakeSession{err: &models.AuthError{Reason: "no active session"}}, config.Default(), testLogger())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	_, err := s.ToggleLike(ctx, "a-0")
	assert.True(t, models.IsAuth(err))
	assert.Zero(t, fs.toggleCalls)
}

func TestSetTabAppliesModifierAndRefreshes(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{
		makeVideos("a", 5, 100),
		makeVideos("f", 5, 90),
	}}
	modifier := func(q store.FeedQuery) store.FeedQuery {
		q.Extra = append(q.Extra, store.Filter{Column: "user_id", Op: "in", Value: "(followed)"})
		return q
	}
	s := newTestSynchronizer(fs, WithFollowingModifier(modifier))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.LoadInitial(ctx))
	require.NoError(t, s.SetTab(ctx, TabFollowing))

	calls := fs.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Extra)
	require.Len(t, calls[1].Extra, 1)
	assert.Equal(t, "user_id", calls[1].Extra[0].Column)

	// Unchanged tab is a no-op.
	require.NoError(t, s.SetTab(ctx, TabFollowing))
	assert.Len(t, fs.calls(), 2)
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	fs := &fakeVideoStore{pages: [][]models.VideoRecord{makeVideos("a", 5, 100)}}
	s := newTestSynchronizer(fs)
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.LoadInitial(context.Background()))

	require.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return len(snap.Videos) == 5
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
