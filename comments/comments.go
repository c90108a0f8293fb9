// Package comments maintains the live comment list for one video and owns
// the add/edit/delete/like operations against it.
package comments

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"videothingy/client-engine/auth"
	"videothingy/client-engine/models"
	"videothingy/client-engine/store"
	"videothingy/client-engine/utils"
)

// Snapshot is an immutable view of the engine state.
type Snapshot struct {
	Comments   []models.CommentRecord
	Submitting bool
	LastError  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the timestamp source.
func WithClock(f func() time.Time) Option {
	return func(e *Engine) { e.now = f }
}

// WithIDGenerator replaces the comment id source.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// Engine owns the comment list for a single video. Local state moves only
// after the corresponding remote write commits.
type Engine struct {
	videoID  string
	comments store.CommentStore
	sessions auth.SessionProvider
	logger   *logrus.Logger

	now   func() time.Time
	newID func() string

	mu         sync.Mutex
	list       []models.CommentRecord
	submitting bool
	lastErr    error

	sub     store.CommentSubscription
	subDone chan struct{}

	obsMu     sync.Mutex
	observers map[int]chan Snapshot
	nextObs   int
}

// NewEngine builds a comments engine for one video. Call Start to establish
// the live listener.
func NewEngine(videoID string, comments store.CommentStore, sessions auth.SessionProvider, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		videoID:   videoID,
		comments:  comments,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		observers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads the current comment list and establishes the live listener.
func (e *Engine) Start(ctx context.Context) error {
	list, err := e.comments.ListComments(ctx, e.videoID)
	if err != nil {
		e.logger.WithError(err).WithField("video_id", e.videoID).Error("loading comments failed")
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return err
	}
	e.mu.Lock()
	e.list = list
	e.mu.Unlock()
	e.notify()

	e.resubscribe()
	return nil
}

func (e *Engine) resubscribe() {
	e.unsubscribe()

	sub, err := e.comments.WatchComments(context.Background(), e.videoID)
	if err != nil {
		e.logger.WithError(err).Error("establishing comments subscription failed")
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.sub = sub
	e.subDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		for snap := range sub.Snapshots() {
			e.mu.Lock()
			e.list = snap
			e.mu.Unlock()
			e.notify()
		}
	}()
}

func (e *Engine) unsubscribe() {
	e.mu.Lock()
	sub, done := e.sub, e.subDone
	e.sub, e.subDone = nil, nil
	e.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
}

// Close tears down the listener and all observers.
func (e *Engine) Close() {
	e.unsubscribe()
	e.obsMu.Lock()
	for id, ch := range e.observers {
		delete(e.observers, id)
		close(ch)
	}
	e.obsMu.Unlock()
}

// AddComment validates and submits a new comment; the local list gains it
// only after the transactional insert commits. Validation failures issue no
// network write.
func (e *Engine) AddComment(ctx context.Context, text string) (models.CommentRecord, error) {
	e.mu.Lock()
	e.submitting = true
	e.mu.Unlock()
	e.notify()
	defer func() {
		e.mu.Lock()
		e.submitting = false
		e.mu.Unlock()
		e.notify()
	}()

	text = utils.SanitizeInput(text)
	if text == "" {
		return models.CommentRecord{}, &models.ValidationError{Field: "text", Reason: "comment is empty"}
	}
	if utf8.RuneCountInString(text) > models.MaxCommentLength {
		return models.CommentRecord{}, &models.ValidationError{Field: "text", Reason: "comment exceeds 250 characters"}
	}

	userID, err := e.sessions.CurrentUserID()
	if err != nil {
		return models.CommentRecord{}, err
	}

	comment := models.CommentRecord{
		ID:        e.newID(),
		VideoID:   e.videoID,
		UserID:    userID,
		Text:      text,
		CreatedAt: e.now().UTC(),
	}
	if err := e.comments.AddComment(ctx, comment); err != nil {
		e.logger.WithError(err).WithField("video_id", e.videoID).Error("adding comment failed")
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return models.CommentRecord{}, err
	}

	e.mu.Lock()
	e.list = append([]models.CommentRecord{comment}, e.list...)
	e.mu.Unlock()
	e.notify()
	return comment, nil
}

// ToggleLike flips the caller's like on a comment. The cached counter moves
// only after the remote transaction commits.
func (e *Engine) ToggleLike(ctx context.Context, commentID string) (bool, error) {
	userID, err := e.sessions.CurrentUserID()
	if err != nil {
		return false, err
	}

	liked, err := e.comments.ToggleCommentLike(ctx, commentID, userID)
	if err != nil {
		e.logger.WithError(err).WithField("comment_id", commentID).Error("toggling comment like failed")
		return false, err
	}

	delta := int64(-1)
	if liked {
		delta = 1
	}
	e.mu.Lock()
	for i := range e.list {
		if e.list[i].ID == commentID {
			e.list[i].LikeCount += delta
			break
		}
	}
	e.mu.Unlock()
	e.notify()
	return liked, nil
}

// EditComment rewrites the caller's own comment and marks it edited.
func (e *Engine) EditComment(ctx context.Context, commentID, newText string) error {
	newText = utils.SanitizeInput(newText)
	if newText == "" {
		return &models.ValidationError{Field: "text", Reason: "comment is empty"}
	}
	if utf8.RuneCountInString(newText) > models.MaxCommentLength {
		return &models.ValidationError{Field: "text", Reason: "comment exceeds 250 characters"}
	}

	userID, err := e.sessions.CurrentUserID()
	if err != nil {
		return err
	}
	if c, ok := e.find(commentID); !ok || c.UserID != userID {
		return &models.ValidationError{Reason: "only the author can edit a comment"}
	}

	editedAt := e.now().UTC()
	if err := e.comments.EditComment(ctx, commentID, userID, newText, editedAt); err != nil {
		e.logger.WithError(err).WithField("comment_id", commentID).Error("editing comment failed")
		return err
	}

	e.mu.Lock()
	for i := range e.list {
		if e.list[i].ID == commentID {
			e.list[i].Text = newText
			e.list[i].Edited = true
			ts := editedAt
			e.list[i].EditTimestamp = &ts
			break
		}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// DeleteComment removes the caller's own comment.
func (e *Engine) DeleteComment(ctx context.Context, commentID string) error {
	userID, err := e.sessions.CurrentUserID()
	if err != nil {
		return err
	}
	if c, ok := e.find(commentID); !ok || c.UserID != userID {
		return &models.ValidationError{Reason: "only the author can delete a comment"}
	}

	if err := e.comments.DeleteComment(ctx, e.videoID, commentID, userID); err != nil {
		e.logger.WithError(err).WithField("comment_id", commentID).Error("deleting comment failed")
		return err
	}

	e.mu.Lock()
	kept := e.list[:0]
	for _, c := range e.list {
		if c.ID != commentID {
			kept = append(kept, c)
		}
	}
	e.list = kept
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Engine) find(commentID string) (models.CommentRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.list {
		if c.ID == commentID {
			return c, true
		}
	}
	return models.CommentRecord{}, false
}

// Snapshot returns an immutable copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Comments:   append([]models.CommentRecord(nil), e.list...),
		Submitting: e.submitting,
		LastError:  e.lastErr,
	}
}

// Subscribe registers an observer; the cancel func unregisters it and
// closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	ch := make(chan Snapshot, 1)
	e.observers[id] = ch
	e.obsMu.Unlock()

	return ch, func() {
		e.obsMu.Lock()
		if c, ok := e.observers[id]; ok {
			delete(e.observers, id)
			close(c)
		}
		e.obsMu.Unlock()
	}
}

func (e *Engine) notify() {
	snap := e.Snapshot()
	e.obsMu.Lock()
	for _, ch := range e.observers {
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
	e.obsMu.Unlock()
}
