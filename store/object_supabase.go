package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"videothingy/client-engine/models"
)

// SupabaseObjects implements ObjectStore against the Supabase Storage API.
// Transfers go through the raw REST endpoint so they carry a cancellable
// request context and report byte-level progress; URL issuance goes through
// the storage client.
type SupabaseObjects struct {
	baseURL string
	apiKey  string
	bucket  string
	storage *storage_go.Client
	http    *http.Client
}

// NewSupabaseObjects builds an object store rooted at one bucket.
func NewSupabaseObjects(baseURL, apiKey, bucket string) *SupabaseObjects {
	baseURL = strings.TrimRight(baseURL, "/")
	return &SupabaseObjects{
		baseURL: baseURL,
		apiKey:  apiKey,
		bucket:  bucket,
		storage: storage_go.NewClient(baseURL+"/storage/v1", apiKey, nil),
		http:    &http.Client{},
	}
}

// progressReader counts bytes as the transfer drains the source.
type progressReader struct {
	r        io.Reader
	total    int64
	done     int64
	progress func(done, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.done += int64(n)
		if pr.progress != nil {
			pr.progress(pr.done, pr.total)
		}
	}
	return n, err
}

// Upload transfers the reader's contents under key within the bucket.
func (o *SupabaseObjects) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress func(done, total int64)) error {
	body := &progressReader{r: r, total: size, progress: progress}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", o.baseURL, o.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("building upload request for %s: %w", key, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.ContentLength = size

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload of %s failed with status %d: %s", key, resp.StatusCode, respBody)
	}
	return nil
}

// Stat reads the stored object's metadata, confirming the transfer landed.
func (o *SupabaseObjects) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/info/%s/%s", o.baseURL, o.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building stat request for %s: %w", key, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching object info for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrRecordNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("object info for %s failed with status %d: %s", key, resp.StatusCode, respBody)
	}

	var payload struct {
		Size        int64  `json:"size"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding object info for %s: %w", key, err)
	}
	return &ObjectInfo{Size: payload.Size, ContentType: payload.ContentType}, nil
}

// PublicURL resolves the object's public URL.
func (o *SupabaseObjects) PublicURL(key string) (string, error) {
	res := o.storage.GetPublicUrl(o.bucket, key)
	publicURL := res.SignedURL
	if publicURL == "" {
		return "", fmt.Errorf("empty public URL for %s", key)
	}
	// Normalize relative URLs against the project base.
	if !strings.HasPrefix(publicURL, "http") {
		if strings.HasPrefix(publicURL, "/") {
			publicURL = o.baseURL + publicURL
		} else {
			publicURL = o.baseURL + "/" + publicURL
		}
	}
	return publicURL, nil
}
