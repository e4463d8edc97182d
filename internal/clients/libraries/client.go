// Package libraries is the HTTP client for the content library service.
package libraries

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/pkg/httpx"
	"github.com/yungbote/coursestore-backend/internal/platform/envutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		BaseURL:    strings.TrimRight(envutil.String("LIBRARY_SERVICE_URL", "", log), "/"),
		Token:      envutil.String("LIBRARY_SERVICE_TOKEN", "", log),
		Timeout:    envutil.Duration("LIBRARY_SERVICE_TIMEOUT", 10*time.Second, log),
		MaxRetries: envutil.Int("LIBRARY_SERVICE_MAX_RETRIES", 3, log),
	}
}

// UserHeader carries the acting studio user so the library service can apply its
// own read permissions.
const UserHeader = "X-Studio-User"

type Client struct {
	log  *logger.Logger
	http *resty.Client
}

var _ upstream.LibraryService = (*Client)(nil)

func New(cfg Config, baseLog *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("missing LIBRARY_SERVICE_URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(httpx.RetryAfter(250*time.Millisecond, 5*time.Second)).
		AddRetryCondition(httpx.RetryCondition)
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}
	return &Client{log: baseLog.With("client", "LibraryClient"), http: rc}, nil
}

type blockResponse struct {
	ID                  string `json:"id"`
	BlockType           string `json:"block_type"`
	DisplayName         string `json:"display_name"`
	PublishedVersionNum *int   `json:"published_version_num"`
}

type blockFieldsResponse struct {
	DisplayName string         `json:"display_name"`
	Data        *string        `json:"data"`
	Metadata    map[string]any `json:"metadata"`
}

type containerResponse struct {
	ContainerKey        string         `json:"container_key"`
	ContainerType       string         `json:"container_type"`
	DisplayName         string         `json:"display_name"`
	PublishedVersionNum *int           `json:"published_version_num"`
	Metadata            map[string]any `json:"metadata"`
}

type childResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// GetBlock returns the published state of a library block: its metadata and the
// published field values.
func (c *Client) GetBlock(ctx context.Context, user string, key keys.LibraryUsageKey) (*upstream.LibraryBlock, error) {
	var meta blockResponse
	if err := c.get(ctx, user, "/api/libraries/v2/blocks/{key}/", key.String(), nil, &meta); err != nil {
		return nil, err
	}
	var fields blockFieldsResponse
	if err := c.get(ctx, user, "/api/libraries/v2/blocks/{key}/fields/", key.String(), url.Values{"version": {"published"}}, &fields); err != nil {
		return nil, err
	}
	out := &upstream.LibraryBlock{
		Key:              key,
		BlockType:        meta.BlockType,
		PublishedVersion: meta.PublishedVersionNum,
		Fields:           map[string]any{},
	}
	if out.BlockType == "" {
		out.BlockType = key.BlockType
	}
	for name, v := range fields.Metadata {
		out.Fields[name] = v
	}
	if fields.Data != nil {
		out.Fields["data"] = *fields.Data
	}
	if name := firstNonEmpty(fields.DisplayName, meta.DisplayName); name != "" {
		out.Fields["display_name"] = name
	}
	return out, nil
}

func (c *Client) GetContainer(ctx context.Context, user string, key keys.LibraryContainerKey) (*upstream.LibraryContainer, error) {
	var resp containerResponse
	if err := c.get(ctx, user, "/api/libraries/v2/containers/{key}/", key.String(), nil, &resp); err != nil {
		return nil, err
	}
	out := &upstream.LibraryContainer{
		Key:              key,
		ContainerType:    firstNonEmpty(resp.ContainerType, key.ContainerType),
		PublishedVersion: resp.PublishedVersionNum,
		DisplayName:      resp.DisplayName,
		Fields:           resp.Metadata,
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out, nil
}

func (c *Client) GetContainerChildren(ctx context.Context, user string, key keys.LibraryContainerKey, published bool) ([]upstream.ContainerChild, error) {
	q := url.Values{}
	if published {
		q.Set("published", "true")
	}
	var resp []childResponse
	if err := c.get(ctx, user, "/api/libraries/v2/containers/{key}/children/", key.String(), q, &resp); err != nil {
		return nil, err
	}
	out := make([]upstream.ContainerChild, 0, len(resp))
	for _, ch := range resp {
		out = append(out, upstream.ContainerChild{Ref: ch.ID, DisplayName: ch.DisplayName})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, user, path, key string, query url.Values, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("key", key).
		SetResult(out)
	if user != "" {
		req.SetHeader(UserHeader, user)
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		c.log.Warn("library request failed", "path", path, "key", key, "error", err)
		return storeerr.Wrap(storeerr.ErrUnavailable, key, err, "library service request for %s failed", key)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return storeerr.NotFound(key)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return storeerr.New(storeerr.ErrPermissionDenied, key, "%s can not read %s", userOrAnon(user), key)
	case resp.IsError():
		c.log.Warn("library service error", "path", path, "key", key, "status", code)
		return storeerr.Wrap(storeerr.ErrUnavailable, key, &httpx.StatusError{Status: code, Body: truncate(resp.String(), 256)}, "library service could not return %s", key)
	}
	return nil
}

func userOrAnon(user string) string {
	if user == "" {
		return "anonymous user"
	}
	return user
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
