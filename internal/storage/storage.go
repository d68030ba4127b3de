package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Upload timeout per attempt, generous for long 1080p exports
	uploadTimeout = 10 * time.Minute

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	log        zerolog.Logger

	// sleep waits between retries; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(url, serviceKey, bucket string, logger zerolog.Logger) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:   logger.With().Str("component", "storage").Logger(),
		sleep: sleepCtx,
	}
}

// UploadFile streams localPath to Supabase Storage with retries and
// exponential backoff. Each attempt reopens the file.
func (s *Storage) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	url := s.objectURL(storagePath)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			s.log.Warn().Int("attempt", attempt).Str("path", storagePath).Dur("wait", delay).Msg("Retrying upload")
			if err := s.sleep(ctx, delay); err != nil {
				return fmt.Errorf("upload cancelled: %w", err)
			}
		}

		retry, err := s.putOnce(ctx, url, localPath, info.Size(), contentType)
		if err == nil {
			if attempt > 0 {
				s.log.Info().Int("attempt", attempt+1).Str("path", storagePath).Msg("Upload succeeded after retry")
			}
			return nil
		}
		lastErr = err
		if !retry {
			return lastErr
		}
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Upload attempt failed (retryable)")
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

// putOnce performs one PUT and reports whether a failure is worth retrying.
func (s *Storage) putOnce(ctx context.Context, url, localPath string, size int64, contentType string) (bool, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("upload cancelled: %w", ctx.Err())
		}
		return isRetryableError(err), fmt.Errorf("failed to upload: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return false, nil
	}
	// Non-retryable status (400, 401, 403, 404, 413, etc.) ends the loop
	return isRetryableStatus(resp.StatusCode),
		fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
}

// Remove deletes an object; missing objects are not an error.
func (s *Storage) Remove(ctx context.Context, storagePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(storagePath), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to remove: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remove failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

// GetSignedURL creates a signed URL for temporary access. download sets the
// file name the browser saves under.
func (s *Storage) GetSignedURL(ctx context.Context, storagePath string, expiresIn int, download string) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, storagePath)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	signed := s.url + "/storage/v1" + result.SignedURL
	if download != "" {
		sep := "&"
		if !strings.Contains(signed, "?") {
			sep = "?"
		}
		signed += sep + "download=" + download
	}
	return signed, nil
}

// ExportPath is the object key for one export's file.
func ExportPath(projectID, exportID uuid.UUID, filename string) string {
	return path.Join(projectID.String(), exportID.String(), filename)
}

// ErrInvalidKey is returned by AssetKey for anything that is not a plain
// object key.
var ErrInvalidKey = errors.New("invalid storage key")

// AssetKey returns key as an object key under the project's prefix, adding
// the prefix when key does not already carry it. URLs, absolute paths,
// backslashes and dot or empty segments are rejected so the key can never
// leave the bucket or the project.
func AssetKey(projectID uuid.UUID, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, ":\\") {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidKey
		}
	}
	prefix := projectID.String() + "/"
	if !strings.HasPrefix(key, prefix) {
		key = prefix + key
	}
	return key, nil
}

func (s *Storage) objectURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, storagePath)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// 0-25% jitter
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
