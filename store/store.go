// Package store defines the narrow contracts this engine holds against the
// remote document and object stores, plus the Supabase-backed
// implementations of both.
package store

import (
	"context"
	"io"
	"time"

	"videothingy/client-engine/models"
)

// SortKey selects the feed ordering column.
type SortKey string

const (
	SortByEngagement SortKey = "engagement_score"
	SortByLikes      SortKey = "like_count"
	SortByUploadDate SortKey = "created_at"
)

// Cursor points at the last materialized row of the feed ordering. SortValue
// holds that row's serialized ordering value so a keyset scan can resume
// strictly after it; LastID breaks ties. A nil *Cursor means start of feed.
type Cursor struct {
	SortValue string
	LastID    string
}

// Filter is one column predicate, kept abstract so callers can inject query
// modifiers without binding to a specific query builder.
type Filter struct {
	Column string
	// Op is a PostgREST operator name: eq, neq, in, gt, ...
	Op    string
	Value string
}

// FeedQuery describes one ordered page scan over the videos table.
type FeedQuery struct {
	SortKey  SortKey
	Statuses []string
	Limit    int
	After    *Cursor
	Extra    []Filter
}

// VideoPage is the result of one page scan. Next is nil when the page came
// back empty.
type VideoPage struct {
	Videos []models.VideoRecord
	Next   *Cursor
}

// Subscription is a live watch handle. Close cancels the watch and closes
// the snapshot channel; it is safe to call more than once.
type Subscription interface {
	Snapshots() <-chan []models.VideoRecord
	Close()
}

// CommentSubscription mirrors Subscription for a video's comment list.
type CommentSubscription interface {
	Snapshots() <-chan []models.CommentRecord
	Close()
}

// VideoStore is the document-store contract the feed synchronizer and the
// upload pipeline depend on.
type VideoStore interface {
	FetchVideoPage(ctx context.Context, q FeedQuery) (VideoPage, error)
	// WatchVideos delivers full snapshots of the query window whenever its
	// contents change.
	WatchVideos(ctx context.Context, q FeedQuery) (Subscription, error)
	// ToggleVideoLike atomically flips the user's like membership, adjusts
	// like_count, and maintains the per-user reverse index. It reports
	// whether the video is liked after the call.
	ToggleVideoLike(ctx context.Context, videoID, userID string) (bool, error)
	GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error)
	InsertVideo(ctx context.Context, video models.VideoRecord) error
}

// CommentStore is the document-store contract the comments engine depends
// on. Mutations that touch counters commit atomically with them.
type CommentStore interface {
	ListComments(ctx context.Context, videoID string) ([]models.CommentRecord, error)
	WatchComments(ctx context.Context, videoID string) (CommentSubscription, error)
	// AddComment inserts the comment and bumps the video's comment_count in
	// one transaction.
	AddComment(ctx context.Context, comment models.CommentRecord) error
	// ToggleCommentLike flips the user's membership row and adjusts
	// like_count in one transaction, reporting the resulting liked state.
	ToggleCommentLike(ctx context.Context, commentID, userID string) (bool, error)
	EditComment(ctx context.Context, commentID, userID, text string, editedAt time.Time) error
	// DeleteComment removes the comment and decrements the video's
	// comment_count in one transaction.
	DeleteComment(ctx context.Context, videoID, commentID, userID string) error
}

// ObjectInfo describes a stored object, as reported by the store itself.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// ObjectStore is the object-storage contract the upload pipeline depends on.
type ObjectStore interface {
	// Upload transfers the reader's contents under key, reporting byte
	// progress as (done, total). Cancelling ctx aborts the transfer.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress func(done, total int64)) error
	// Stat issues the post-transfer verification read.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// PublicURL resolves the published URL for key.
	PublicURL(key string) (string, error)
}
