// Package github is a small client for the GitHub REST API covering the
// authenticated user, their repositories and the API rate limit.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	userAgent      = "foundryhub/1.0.0"
	acceptHeader   = "application/vnd.github.v3+json"
	defaultPerPage = 30
	maxPerPage     = 100
)

// ErrNotConfigured is returned by every call when no token is set.
var ErrNotConfigured = errors.New("github: token not configured")

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: GET %s returned status %d", e.Path, e.Code)
}

// IsTimeout reports whether err is a request that ran out of time, either
// through the caller's context or the client timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// User is the authenticated GitHub account.
type User struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

// Repository is one repository of the authenticated user.
type Repository struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	Private         bool   `json:"private"`
	HTMLURL         string `json:"html_url"`
	Language        string `json:"language"`
	StargazersCount int    `json:"stargazers_count"`
	ForksCount      int    `json:"forks_count"`
	UpdatedAt       string `json:"updated_at"`
	CreatedAt       string `json:"created_at"`
}

// RateLimit is the core API quota of the token.
type RateLimit struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Client calls the GitHub REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client for the API at baseURL. An empty token yields a
// client whose calls fail with ErrNotConfigured.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, token: token},
			Timeout:   timeout,
		},
	}
}

// Configured reports whether a token is set.
func (c *Client) Configured() bool { return c.token != "" }

// APIURL returns the API base URL.
func (c *Client) APIURL() string { return c.baseURL }

// User fetches the account the token belongs to.
func (c *Client) User(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, "/user", nil, &u)
	return u, err
}

// Repos lists the user's repositories, most recently updated first. limit
// is clamped to [1, 100] and defaults to 30; page starts at 1.
func (c *Client) Repos(ctx context.Context, limit, page int) ([]Repository, error) {
	if limit <= 0 {
		limit = defaultPerPage
	}
	limit = min(limit, maxPerPage)
	page = max(page, 1)

	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("direction", "desc")
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))

	var repos []Repository
	if err := c.get(ctx, "/user/repos", q, &repos); err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []Repository{}
	}
	return repos, nil
}

// RateLimit fetches the core rate limit of the token.
func (c *Client) RateLimit(ctx context.Context) (RateLimit, error) {
	var body struct {
		Rate RateLimit `json:"rate"`
	}
	err := c.get(ctx, "/rate_limit", nil, &body)
	return body.Rate, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

// authRoundTripper adds the token and API headers to every request.
type authRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}
