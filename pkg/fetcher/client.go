// Package fetcher is the boundary to the external content source. It turns
// HTTP failures into the transient/permanent taxonomy the retry layer
// understands: 404 on a handle is permanent, 429 and 5xx are transient.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// Client fetches a creator's profile and posts from the external content
// source.
type Client interface {
	// FetchProfile returns the profile and its recent posts for a handle.
	FetchProfile(ctx context.Context, handle string) (*models.ProfileData, []models.PostData, error)

	// DownloadThumbnail returns the raw bytes of a post thumbnail, used by
	// the thumbnail stage before upload to object storage.
	DownloadThumbnail(ctx context.Context, thumbnailURL string) ([]byte, error)
}

// Config holds content-source client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates an HTTP content-source client.
func NewClient(cfg *Config, logger *zap.Logger) Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("fetcher"),
	}
}

var _ Client = (*httpClient)(nil)

// profileEnvelope is the content source's wire format.
type profileEnvelope struct {
	Profile models.ProfileData `json:"profile"`
	Posts   []models.PostData  `json:"posts"`
}

func (c *httpClient) FetchProfile(ctx context.Context, handle string) (*models.ProfileData, []models.PostData, error) {
	endpoint := fmt.Sprintf("%s/v1/profiles/%s?include_posts=true", c.baseURL, url.PathEscape(handle))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build fetch request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures are worth retrying.
		return nil, nil, apperrors.Transient(fmt.Errorf("fetch profile %q: %w", handle, err))
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("Content source response",
		zap.String("handle", handle),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if err := classifyStatus(resp.StatusCode, handle); err != nil {
		return nil, nil, err
	}

	var envelope profileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// A malformed body won't improve on retry.
		return nil, nil, apperrors.Permanent(fmt.Errorf("decode profile %q: %w", handle, err))
	}

	if envelope.Profile.Handle == "" {
		envelope.Profile.Handle = handle
	}

	return &envelope.Profile, envelope.Posts, nil
}

func (c *httpClient) DownloadThumbnail(ctx context.Context, thumbnailURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbnailURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build thumbnail request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("download thumbnail: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, apperrors.Permanent(fmt.Errorf("thumbnail gone: status %d", resp.StatusCode))
		}
		return nil, apperrors.Transient(fmt.Errorf("thumbnail download: status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("read thumbnail body: %w", err))
	}
	return raw, nil
}

// classifyStatus maps a content-source status code onto the error taxonomy.
func classifyStatus(status int, handle string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return apperrors.Permanent(fmt.Errorf("%w: %s", apperrors.ErrHandleNotFound, handle))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Permanent(fmt.Errorf("content source rejected credentials: status %d", status))
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.Transient(fmt.Errorf("content source unavailable: status %d", status))
	default:
		return apperrors.Permanent(fmt.Errorf("content source returned status %d", status))
	}
}
