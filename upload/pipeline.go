// Package upload owns the chunked upload pipeline: validation, transfer
// with progress, post-transfer verification, and the metadata commit, all
// inside a bounded retry loop.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"videothingy/client-engine/auth"
	"videothingy/client-engine/config"
	"videothingy/client-engine/internal/probe"
	"videothingy/client-engine/models"
	"videothingy/client-engine/store"
	"videothingy/client-engine/utils"
)

// DurationProber reports the playable duration of a local media file.
type DurationProber interface {
	Duration(path string) (time.Duration, error)
}

// DefaultCaption is used when the caller provides none.
const DefaultCaption = "New video"

// uuidPattern guards the generated storage key; a mismatch means the id
// generator itself misbehaved.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// allowedExtensions maps accepted file extensions to their content types.
var allowedExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// uploadRequest is validated before any network call.
type uploadRequest struct {
	Path    string `validate:"required"`
	Caption string `validate:"max=150"`
}

var validate = validator.New()

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProber replaces the ffprobe-backed duration prober.
func WithProber(d DurationProber) Option {
	return func(p *Pipeline) { p.prober = d }
}

// WithSleep replaces the backoff/settle sleep function.
func WithSleep(f func(time.Duration)) Option {
	return func(p *Pipeline) { p.sleep = f }
}

// WithClock replaces the timestamp source.
func WithClock(f func() time.Time) Option {
	return func(p *Pipeline) { p.now = f }
}

// activeTransfer is the handle for the single in-flight transfer.
type activeTransfer struct {
	cancel context.CancelFunc
}

// Pipeline runs one logical upload at a time. Starting a new upload cancels
// the in-flight transfer of the previous one.
type Pipeline struct {
	objects  store.ObjectStore
	videos   store.VideoStore
	sessions auth.SessionProvider
	prober   DurationProber
	logger   *logrus.Logger
	cfg      config.Config

	sleep func(time.Duration)
	now   func() time.Time

	mu     sync.Mutex
	active *activeTransfer
}

// NewPipeline wires an upload pipeline. By default durations are probed
// with ffprobe and sleeps are real.
func NewPipeline(objects store.ObjectStore, videos store.VideoStore, sessions auth.SessionProvider, cfg config.Config, logger *logrus.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		objects:  objects,
		videos:   videos,
		sessions: sessions,
		prober:   probe.FFProbe{},
		logger:   logger,
		cfg:      cfg,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload validates the file, transfers it with progress feedback, verifies
// persistence, and commits the video record. It returns the published URL.
// Validation and auth failures surface immediately and never enter the
// retry loop.
func (p *Pipeline) Upload(ctx context.Context, filePath, caption string, onProgress func(float64)) (string, error) {
	userID, err := p.sessions.CurrentUserID()
	if err != nil {
		return "", err
	}

	caption = utils.SanitizeInput(caption)
	if caption == "" {
		caption = DefaultCaption
	}

	req := uploadRequest{Path: filePath, Caption: caption}
	if err := validate.Struct(req); err != nil {
		return "", &models.ValidationError{Reason: strings.Join(utils.FormatValidationErrors(err), "; ")}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return "", &models.ValidationError{Field: "file", Reason: fmt.Sprintf("unreadable file: %v", err)}
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return "", &models.ValidationError{Field: "file", Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}
	if info.Size() > p.cfg.MaxFileSize {
		return "", &models.ValidationError{Field: "file", Reason: fmt.Sprintf("file size %d exceeds cap %d", info.Size(), p.cfg.MaxFileSize)}
	}
	duration, err := p.prober.Duration(filePath)
	if err != nil {
		return "", &models.ValidationError{Field: "file", Reason: fmt.Sprintf("probing duration: %v", err)}
	}
	if duration > p.cfg.MaxDuration {
		return "", &models.ValidationError{Field: "file", Reason: fmt.Sprintf("duration %s exceeds cap %s", duration, p.cfg.MaxDuration)}
	}

	// One id per attempt set: every retry of this upload reuses the same
	// storage key, so a late success after a partial landing stays
	// idempotent.
	videoID := uuid.NewString()
	if !uuidPattern.MatchString(videoID) {
		return "", fmt.Errorf("generated id %q does not match the uuid pattern", videoID)
	}
	key := fmt.Sprintf("videos/%s/%s%s", userID, videoID, ext)

	ctx, cancel := context.WithCancel(ctx)
	handle := p.begin(cancel)
	defer p.finish(handle)

	log := p.logger.WithFields(logrus.Fields{
		"video_id": videoID,
		"user_id":  userID,
		"file":     filepath.Base(filePath),
	})

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		url, err := p.attempt(ctx, attempt, key, videoID, userID, caption, filePath, info.Size(), contentType, onProgress)
		if err == nil {
			log.WithField("attempt", attempt).Info("upload published")
			return url, nil
		}

		var pe *models.PersistenceError
		if errors.As(err, &pe) {
			// The media already landed; retrying would mint a duplicate id.
			log.WithError(err).Error("metadata commit failed after successful transfer")
			return "", err
		}
		if ctx.Err() != nil {
			log.Warn("upload cancelled")
			return "", fmt.Errorf("upload cancelled: %w", ctx.Err())
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("upload attempt failed")
		if attempt == p.cfg.MaxRetries {
			break
		}
		p.sleep(p.cfg.BackoffBase << (attempt - 1))
	}

	log.WithError(lastErr).Error("upload retries exhausted")
	return "", &models.RetryExhaustedError{Attempts: p.cfg.MaxRetries, Err: lastErr}
}

// attempt runs one full transfer-verify-resolve-commit cycle.
func (p *Pipeline) attempt(ctx context.Context, attempt int, key, videoID, userID, caption, filePath string, size int64, contentType string, onProgress func(float64)) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", &models.TransientError{Op: "opening file", Err: err}
	}
	defer f.Close()

	progress := func(done, total int64) {
		if onProgress == nil || total <= 0 {
			return
		}
		frac := float64(done) / float64(total)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		onProgress(frac)
	}

	if err := p.objects.Upload(ctx, key, f, size, contentType, progress); err != nil {
		return "", &models.TransientError{Op: "transferring media", Err: err}
	}

	// Let the store settle before the verification read.
	p.sleep(p.cfg.SettleDelay)
	obj, err := p.objects.Stat(ctx, key)
	if err != nil {
		return "", &models.TransientError{Op: "verifying transfer", Err: err}
	}

	url, err := p.resolveURL(key)
	if err != nil {
		return "", err
	}

	now := p.now().UTC()
	record := models.VideoRecord{
		ID:       videoID,
		UserID:   userID,
		Title:    caption,
		VideoURL: url,
		Status:   models.VideoStatusProcessing,
		Processing: &models.ProcessingMetadata{
			ContentType:      obj.ContentType,
			OriginalFilename: filepath.Base(filePath),
			OriginalFileSize: obj.Size,
			UploadStatus:     models.StagePending,
			TranscodeStatus:  models.StagePending,
			TranscriptStatus: models.StagePending,
			AnalysisStatus:   models.StagePending,
			UploadAttempt:    attempt,
			UploadedAt:       now,
		},
		CreatedAt: now,
	}
	if record.Processing.ContentType == "" {
		record.Processing.ContentType = contentType
	}
	if err := p.videos.InsertVideo(ctx, record); err != nil {
		return "", &models.PersistenceError{Op: "committing video record", Err: err}
	}
	return url, nil
}

// resolveURL issues the public URL with its own bounded retry, independent
// of the outer attempt loop.
func (p *Pipeline) resolveURL(key string) (string, error) {
	var lastErr error
	for i := 1; i <= p.cfg.URLRetries; i++ {
		url, err := p.objects.PublicURL(key)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if i < p.cfg.URLRetries {
			p.sleep(p.cfg.SettleDelay)
		}
	}
	return "", &models.TransientError{Op: "resolving public URL", Err: lastErr}
}

// begin installs the transfer handle, cancelling a prior in-flight upload.
func (p *Pipeline) begin(cancel context.CancelFunc) *activeTransfer {
	t := &activeTransfer{cancel: cancel}
	p.mu.Lock()
	prev := p.active
	p.active = t
	p.mu.Unlock()

	if prev != nil {
		p.logger.Warn("cancelling in-flight upload superseded by a new one")
		prev.cancel()
	}
	return t
}

// finish releases the handle if it is still the active one.
func (p *Pipeline) finish(t *activeTransfer) {
	p.mu.Lock()
	if p.active == t {
		p.active = nil
	}
	p.mu.Unlock()
	t.cancel()
}
