// Package api is the REST client for the push-notification server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/models"
)

// TokenSource supplies the current bearer token. An empty token means
// the session is not authenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client talks to the push-notification server.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logging.Component("api"),
	}
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.tokens.Token()
}

// ListMessages fetches a page of messages across all applications.
// since is the paging cursor; nil requests the newest page.
func (c *Client) ListMessages(ctx context.Context, since *int64, limit int) (models.PagedMessages, error) {
	var out models.PagedMessages
	err := c.doJSON(ctx, http.MethodGet, "/message?"+pageQuery(since, limit), &out)
	return out, err
}

// ListApplicationMessages fetches a page of messages for one application.
func (c *Client) ListApplicationMessages(ctx context.Context, appID int64, since *int64, limit int) (models.PagedMessages, error) {
	var out models.PagedMessages
	path := fmt.Sprintf("/application/%d/message?%s", appID, pageQuery(since, limit))
	err := c.doJSON(ctx, http.MethodGet, path, &out)
	return out, err
}

// DeleteMessage deletes a single message.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/message/%d", id), nil)
}

// DeleteMessages deletes every message.
func (c *Client) DeleteMessages(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/message", nil)
}

// DeleteApplicationMessages deletes every message of one application.
func (c *Client) DeleteApplicationMessages(ctx context.Context, appID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/application/%d/message", appID), nil)
}

// ListApplications lists the applications visible to the current user.
func (c *Client) ListApplications(ctx context.Context) ([]models.Application, error) {
	var out []models.Application
	err := c.doJSON(ctx, http.MethodGet, "/application", &out)
	return out, err
}

// CurrentUser returns the authenticated user. It doubles as the
// authentication check.
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodGet, "/current/user", &out)
	return out, err
}

// StreamURL returns the websocket URL of the push channel for token.
func (c *Client) StreamURL(token string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/stream?token=" + url.QueryEscape(token)
}

// ResolveURL joins a server-relative path such as an application image
// with the base URL. Absolute URLs are returned unchanged.
func (c *Client) ResolveURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func pageQuery(since *int64, limit int) string {
	q := url.Values{}
	if since != nil {
		q.Set("since", strconv.FormatInt(*since, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, out any) error {
	token := c.tokens.Token()
	if token == "" {
		return &Error{Kind: KindAuthRejected, Err: ErrNoToken}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("method", method).Str("path", requestPath).Err(err).Msg("request failed")
		return &Error{Kind: KindNetworkUnavailable, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", requestPath).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if readErr != nil {
		return &Error{Kind: KindNetworkUnavailable, Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &Error{Kind: KindDecode, Status: resp.StatusCode, Err: err}
		}
		return nil
	}

	var errPayload struct {
		Error       string `json:"error"`
		Code        int    `json:"errorCode"`
		Description string `json:"errorDescription"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	msg := errPayload.Description
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Kind:    kindForStatus(resp.StatusCode),
		Status:  resp.StatusCode,
		Code:    errPayload.Error,
		Message: msg,
	}
}
