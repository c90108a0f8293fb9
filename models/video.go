package models

import (
	"time"
)

// Video lifecycle statuses. The backend processing pipeline owns every
// transition after the initial commit; clients only ever write "processing"
// at upload time.
const (
	VideoStatusPending    = "pending"
	VideoStatusProcessing = "processing"
	VideoStatusProcessed  = "processed"
	VideoStatusFailed     = "failed"
)

// Per-stage states stored inside ProcessingMetadata.
const (
	StagePending   = "pending"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// ProcessingMetadata is the sub-record committed alongside a new video,
// tracking the original file and the backend pipeline stages.
type ProcessingMetadata struct {
	ContentType      string    `json:"content_type"`
	OriginalFilename string    `json:"original_filename"`
	OriginalFileSize int64     `json:"original_file_size"`
	UploadStatus     string    `json:"upload_status"`
	TranscodeStatus  string    `json:"transcode_status"`
	TranscriptStatus string    `json:"transcript_status"`
	AnalysisStatus   string    `json:"analysis_status"`
	UploadAttempt    int       `json:"upload_attempt"`
	UploadedAt       time.Time `json:"uploaded_at,omitempty"`
}

// VideoRecord represents the structure of a video row in the database.
type VideoRecord struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Title           string              `json:"title"`
	VideoURL        string              `json:"video_url"`
	ThumbnailURL    *string             `json:"thumbnail_url,omitempty"`
	Status          string              `json:"status"`
	ViewCount       int64               `json:"view_count"`
	LikeCount       int64               `json:"like_count"`
	CommentCount    int64               `json:"comment_count"`
	TotalWatchTime  float64             `json:"total_watch_time"`
	AvgWatchTime    float64             `json:"avg_watch_time"`
	CompletionRate  float64             `json:"completion_rate"`
	RewatchRate     float64             `json:"rewatch_rate"`
	EngagementScore float64             `json:"engagement_score"`
	Transcript      *string             `json:"transcript,omitempty"`
	Summary         *string             `json:"summary,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	Processing      *ProcessingMetadata `json:"processing_metadata,omitempty"`
	CreatedAt       time.Time           `json:"created_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at,omitempty"`
}

// VideoLike marks a user's like membership for a video. The row's existence
// is the "liked" boolean; like_count is adjusted atomically alongside
// membership changes, never recomputed by counting rows.
type VideoLike struct {
	VideoID string    `json:"video_id"`
	UserID  string    `json:"user_id"`
	LikedAt time.Time `json:"liked_at,omitempty"`
}

// EstimateEngagementScore computes a local diagnostic estimate from the
// cached counters. The feed never orders by this value; the server-persisted
// engagement_score is authoritative.
func (v *VideoRecord) EstimateEngagementScore() float64 {
	if v.ViewCount == 0 {
		return 0
	}
	views := float64(v.ViewCount)
	likeRatio := clamp01(float64(v.LikeCount) / views)
	commentRatio := clamp01(float64(v.CommentCount) / views)
	return 0.35*clamp01(v.CompletionRate) +
		0.25*clamp01(v.RewatchRate) +
		0.3*likeRatio +
		0.1*commentRatio
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
