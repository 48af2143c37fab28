package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/harun/korli/pkg/errkind"
)

// DefaultBucket is the storage bucket clips are uploaded to.
const DefaultBucket = "audio-bucket"

// SupabaseUploader stores clips in a Supabase storage bucket.
type SupabaseUploader struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
}

// NewSupabaseUploader creates an uploader for the project at baseURL.
func NewSupabaseUploader(baseURL, key, bucket string) (*SupabaseUploader, error) {
	if baseURL == "" || key == "" {
		return nil, fmt.Errorf("supabase uploader requires url and key")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &SupabaseUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		bucket:  bucket,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "supabase.upload"
				}),
			),
		},
	}, nil
}

// Upload PUTs data as name and returns the object's public URL.
func (u *SupabaseUploader) Upload(ctx context.Context, name string, data []byte, upsert bool) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.baseURL, u.bucket, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.key)
	req.Header.Set("apikey", u.key)
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("Cache-Control", "public, max-age=31536000")
	if upsert {
		req.Header.Set("x-upsert", "true")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errkind.Transient("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errkind.FromStatus("upload", resp.StatusCode,
			fmt.Errorf("supabase upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, u.bucket, name), nil
}
