package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dreamsuncharted/funding-backend/pkg/config"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("content service base url is required")

// Client calls the publishing service to resolve content and series ownership.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Resolver is the ownership-check surface consumed by the funding service.
type Resolver interface {
	IsContentOwner(ctx context.Context, contentID, userID uuid.UUID) (bool, error)
	IsSeriesOwner(ctx context.Context, seriesID, userID uuid.UUID) (bool, error)
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the publishing-service client from configuration.
func NewClient(cfg config.ContentConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// IsContentOwner checks whether the user owns the given content item.
func (c *Client) IsContentOwner(ctx context.Context, contentID, userID uuid.UUID) (bool, error) {
	return c.checkOwnership(ctx, "content", contentID, userID)
}

// IsSeriesOwner checks whether the user owns the given series.
func (c *Client) IsSeriesOwner(ctx context.Context, seriesID, userID uuid.UUID) (bool, error) {
	return c.checkOwnership(ctx, "series", seriesID, userID)
}

func (c *Client) checkOwnership(ctx context.Context, kind string, subjectID, userID uuid.UUID) (bool, error) {
	if c == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "content client not configured")
	}
	if subjectID == uuid.Nil || userID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "subject and user ids are required")
	}

	endpoint := fmt.Sprintf("%s/internal/%s/%s/ownership?user_id=%s",
		c.baseURL, kind, url.PathEscape(subjectID.String()), url.QueryEscape(userID.String()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build ownership request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute ownership request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s not found", kind))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"ownership request failed")
	}

	var payload struct {
		IsOwner bool `json:"isOwner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode ownership response")
	}
	return payload.IsOwner, nil
}
