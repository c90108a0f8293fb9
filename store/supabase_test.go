package store

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videothingy/client-engine/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDecodeVideosSkipsMalformedRows(t *testing.T) {
	s := NewSupabase(nil, testLogger(), time.Second)

	body := []byte(`[
		{"id": "v-1", "title": "first", "like_count": 3},
		{"id": 42},
		{"id": "v-2", "title": "second"}
	]`)
	videos, err := s.decodeVideos(body)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "v-1", videos[0].ID)
	assert.Equal(t, int64(3), videos[0].LikeCount)
	assert.Equal(t, "v-2", videos[1].ID)
}

func TestDecodeVideosRejectsMalformedResultSet(t *testing.T) {
	s := NewSupabase(nil, testLogger(), time.Second)

	_, err := s.decodeVideos([]byte(`{"not": "an array"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshalling video result set")
}

func TestDecodeCommentsSkipsMalformedRows(t *testing.T) {
	s := NewSupabase(nil, testLogger(), time.Second)

	body := []byte(`[
		{"id": "c-1", "text": "hello"},
		{"id": "c-2", "like_count": "nope"}
	]`)
	comments, err := s.decodeComments(body)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "c-1", comments[0].ID)
}

func TestSortValueOf(t *testing.T) {
	created := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
	video := models.VideoRecord{
		LikeCount:       42,
		EngagementScore: 0.875,
		CreatedAt:       created,
	}

	assert.Equal(t, "42", sortValueOf(video, SortByLikes))
	assert.Equal(t, created.Format(time.RFC3339Nano), sortValueOf(video, SortByUploadDate))
	assert.Equal(t, "0.875", sortValueOf(video, SortByEngagement))
	// Unknown keys fall back to the engagement score.
	assert.Equal(t, "0.875", sortValueOf(video, SortKey("something_else")))
}

func TestProgressReaderReportsCumulativeBytes(t *testing.T) {
	src := bytes.Repeat([]byte{0xCD}, 1000)
	var events [][2]int64
	pr := &progressReader{
		r:     bytes.NewReader(src),
		total: int64(len(src)),
		progress: func(done, total int64) {
			events = append(events, [2]int64{done, total})
		},
	}

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, src, out)

	require.NotEmpty(t, events)
	var prev int64
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev[0], prev)
		assert.Equal(t, int64(1000), ev[1])
		prev = ev[0]
	}
	assert.Equal(t, int64(1000), events[len(events)-1][0])
}

func TestProgressReaderNilCallback(t *testing.T) {
	pr := &progressReader{r: strings.NewReader("data"), total: 4}
	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "data", string(out))
	assert.Equal(t, int64(4), pr.done)
}
