package models

import (
	"time"
)

// MaxCommentLength is the upper bound on comment text, in characters.
const MaxCommentLength = 250

// CommentRecord represents the structure of a comment row in the database.
// Comments are scoped to their parent video.
type CommentRecord struct {
	ID            string     `json:"id"`
	VideoID       string     `json:"video_id"`
	UserID        string     `json:"user_id"`
	Text          string     `json:"text"`
	LikeCount     int64      `json:"like_count"`
	Edited        bool       `json:"edited"`
	EditTimestamp *time.Time `json:"edit_timestamp,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
}

// CommentLike marks a user's like membership for a comment, keyed by user
// id. Existence is the "liked" boolean.
type CommentLike struct {
	CommentID string    `json:"comment_id"`
	UserID    string    `json:"user_id"`
	LikedAt   time.Time `json:"liked_at,omitempty"`
}
