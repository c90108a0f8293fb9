package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	postgrest "github.com/supabase-community/postgrest-go"

	"videothingy/client-engine/models"
)

const (
	videosTable   = "videos"
	commentsTable = "comments"
)

// Supabase implements VideoStore and CommentStore on top of PostgREST.
// Operations that must co-commit a counter with a membership or document
// change go through Postgres functions via RPC, which run them in one
// transaction server-side.
type Supabase struct {
	db       *postgrest.Client
	logger   *logrus.Logger
	interval time.Duration
}

// NewSupabase wraps a PostgREST client. interval controls how often the
// Watch* subscriptions re-run their query.
func NewSupabase(db *postgrest.Client, logger *logrus.Logger, interval time.Duration) *Supabase {
	return &Supabase{db: db, logger: logger, interval: interval}
}

// FetchVideoPage runs one ordered, filtered, limited scan over the videos
// table, resuming strictly after q.After when set.
func (s *Supabase) FetchVideoPage(ctx context.Context, q FeedQuery) (VideoPage, error) {
	if err := ctx.Err(); err != nil {
		return VideoPage{}, err
	}

	fb := s.db.From(videosTable).Select("*", "", false)
	if len(q.Statuses) > 0 {
		fb = fb.In("status", q.Statuses)
	}
	for _, f := range q.Extra {
		fb = fb.Filter(f.Column, f.Op, f.Value)
	}
	if q.After != nil {
		// Keyset resume over a descending scan: either the sort value is
		// below the cursor's, or it ties and the id breaks it.
		fb = fb.Or(fmt.Sprintf("%s.lt.%s,and(%s.eq.%s,id.lt.%s)",
			q.SortKey, q.After.SortValue, q.SortKey, q.After.SortValue, q.After.LastID), "")
	}
	body, _, err := fb.
		Order(string(q.SortKey), &postgrest.OrderOpts{Ascending: false}).
		Order("id", &postgrest.OrderOpts{Ascending: false}).
		Limit(q.Limit, "").
		Execute()
	if err != nil {
		return VideoPage{}, fmt.Errorf("fetching video page: %w", err)
	}

	videos, err := s.decodeVideos(body)
	if err != nil {
		return VideoPage{}, err
	}

	page := VideoPage{Videos: videos}
	if len(videos) > 0 {
		last := videos[len(videos)-1]
		page.Next = &Cursor{SortValue: sortValueOf(last, q.SortKey), LastID: last.ID}
	}
	return page, nil
}

// decodeVideos unmarshals a result set row by row. A malformed row is logged
// and skipped, never fatal for the batch.
func (s *Supabase) decodeVideos(body []byte) ([]models.VideoRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling video result set: %w", err)
	}
	videos := make([]models.VideoRecord, 0, len(raw))
	for _, doc := range raw {
		var v models.VideoRecord
		if err := json.Unmarshal(doc, &v); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable video record")
			continue
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func sortValueOf(v models.VideoRecord, key SortKey) string {
	switch key {
	case SortByLikes:
		return strconv.FormatInt(v.LikeCount, 10)
	case SortByUploadDate:
		return v.CreatedAt.UTC().Format(time.RFC3339Nano)
	default:
		return strconv.FormatFloat(v.EngagementScore, 'f', -1, 64)
	}
}

// GetVideo fetches a single video row by id.
func (s *Supabase) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var video models.VideoRecord
	_, err := s.db.From(videosTable).
		Select("*", "", false).
		Eq("id", videoID).
		Single().
		ExecuteTo(&video)
	if err != nil {
		return nil, models.ErrRecordNotFound
	}
	return &video, nil
}

// InsertVideo commits a new video row.
func (s *Supabase) InsertVideo(ctx context.Context, video models.VideoRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.db.From(videosTable).
		Insert(video, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("inserting video record %s: %w", video.ID, err)
	}
	return nil
}

// ToggleVideoLike calls the toggle_video_like Postgres function, which flips
// the video_likes membership row, adjusts videos.like_count, and maintains
// the user_liked_videos reverse index in one transaction.
func (s *Supabase) ToggleVideoLike(ctx context.Context, videoID, userID string) (bool, error) {
	return s.rpcToggle(ctx, "toggle_video_like", map[string]interface{}{
		"p_video_id": videoID,
		"p_user_id":  userID,
	})
}

// ToggleCommentLike calls the toggle_comment_like Postgres function, which
// flips the comment_likes membership row and adjusts comments.like_count in
// one transaction.
func (s *Supabase) ToggleCommentLike(ctx context.Context, commentID, userID string) (bool, error) {
	return s.rpcToggle(ctx, "toggle_comment_like", map[string]interface{}{
		"p_comment_id": commentID,
		"p_user_id":    userID,
	})
}

// rpcToggle runs a boolean-returning toggle function.
func (s *Supabase) rpcToggle(ctx context.Context, fn string, body map[string]interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	// Rpc reports failures through ClientError and does not clear it on
	// success, so reset it before the call.
	s.db.ClientError = nil
	res := s.db.Rpc(fn, "", body)
	if s.db.ClientError != nil {
		return false, fmt.Errorf("%s rpc: %w", fn, s.db.ClientError)
	}
	liked, err := strconv.ParseBool(strings.TrimSpace(res))
	if err != nil {
		return false, fmt.Errorf("unexpected %s response %q: %w", fn, res, err)
	}
	return liked, nil
}

// ListComments returns a video's comments, newest first.
func (s *Supabase) ListComments(ctx context.Context, videoID string) ([]models.CommentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, _, err := s.db.From(commentsTable).
		Select("*", "", false).
		Eq("video_id", videoID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching comments for video %s: %w", videoID, err)
	}
	return s.decodeComments(body)
}

func (s *Supabase) decodeComments(body []byte) ([]models.CommentRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling comment result set: %w", err)
	}
	comments := make([]models.CommentRecord, 0, len(raw))
	for _, doc := range raw {
		var c models.CommentRecord
		if err := json.Unmarshal(doc, &c); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable comment record")
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// AddComment calls the add_comment Postgres function, which inserts the
// comment row and increments the parent video's comment_count in one
// transaction. The comment id is generated client-side so the caller can
// patch its local state after the commit.
func (s *Supabase) AddComment(ctx context.Context, comment models.CommentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.ClientError = nil
	s.db.Rpc("add_comment", "", map[string]interface{}{
		"p_comment_id": comment.ID,
		"p_video_id":   comment.VideoID,
		"p_user_id":    comment.UserID,
		"p_text":       comment.Text,
	})
	if s.db.ClientError != nil {
		return fmt.Errorf("add_comment rpc: %w", s.db.ClientError)
	}
	return nil
}

// EditComment updates the comment text and edit markers. The user_id match
// keeps the update author-scoped server-side as well.
func (s *Supabase) EditComment(ctx context.Context, commentID, userID, text string, editedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"text":           text,
		"edited":         true,
		"edit_timestamp": editedAt,
	}
	_, count, err := s.db.From(commentsTable).
		Update(updates, "", "exact").
		Eq("id", commentID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("updating comment %s: %w", commentID, err)
	}
	if count == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// DeleteComment calls the delete_comment Postgres function, which removes
// the comment, its like memberships, and decrements the parent video's
// comment_count in one transaction.
func (s *Supabase) DeleteComment(ctx context.Context, videoID, commentID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.ClientError = nil
	s.db.Rpc("delete_comment", "", map[string]interface{}{
		"p_video_id":   videoID,
		"p_comment_id": commentID,
		"p_user_id":    userID,
	})
	if s.db.ClientError != nil {
		return fmt.Errorf("delete_comment rpc: %w", s.db.ClientError)
	}
	return nil
}
