package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/foundryhub/internal/github"
)

const githubStatusTimeout = 5 * time.Second

// GitHubClient is the GitHub collaborator behind /api/github.
type GitHubClient interface {
	Configured() bool
	APIURL() string
	User(ctx context.Context) (github.User, error)
	Repos(ctx context.Context, limit, page int) ([]github.Repository, error)
	RateLimit(ctx context.Context) (github.RateLimit, error)
}

// GitHubStatusResponse is the body of GET /api/github/status.
type GitHubStatusResponse struct {
	Configured bool              `json:"configured"`
	APIURL     string            `json:"api_url"`
	Timestamp  time.Time         `json:"timestamp"`
	APIStatus  string            `json:"api_status"`
	RateLimit  *github.RateLimit `json:"rate_limit,omitempty"`
	Error      string            `json:"error,omitempty"`
	Message    string            `json:"message,omitempty"`
}

func (s *Server) handleGitHubUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.github.User(r.Context())
	if err != nil {
		s.writeGitHubError(w, err, "Failed to fetch GitHub user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGitHubRepos(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 30)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
		return
	}
	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "page must be a positive integer")
		return
	}

	repos, err := s.github.Repos(r.Context(), limit, page)
	if err != nil {
		s.writeGitHubError(w, err, "Failed to fetch repositories")
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

// handleGitHubStatus reports whether a token is configured and, if so,
// whether the API is reachable with it. It always answers 200.
func (s *Server) handleGitHubStatus(w http.ResponseWriter, r *http.Request) {
	resp := GitHubStatusResponse{
		Configured: s.github.Configured(),
		APIURL:     s.github.APIURL(),
		Timestamp:  time.Now().UTC(),
	}

	if !resp.Configured {
		resp.APIStatus = "not_configured"
		resp.Message = "Set GITHUB_TOKEN environment variable to enable GitHub integration"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), githubStatusTimeout)
	defer cancel()

	rl, err := s.github.RateLimit(ctx)
	var statusErr *github.StatusError
	switch {
	case err == nil:
		resp.APIStatus = "connected"
		resp.RateLimit = &rl
	case github.IsTimeout(err):
		resp.APIStatus = "timeout"
	case errors.As(err, &statusErr):
		resp.APIStatus = "error"
		resp.Error = "API returned status " + strconv.Itoa(statusErr.Code)
	default:
		resp.APIStatus = "error"
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeGitHubError maps a client error to a response. Upstream statuses are
// passed through.
func (s *Server) writeGitHubError(w http.ResponseWriter, err error, message string) {
	var statusErr *github.StatusError
	switch {
	case errors.Is(err, github.ErrNotConfigured):
		writeError(w, http.StatusUnauthorized, "github_not_configured", "GitHub token not configured")
	case errors.As(err, &statusErr):
		s.logger.Warn("server: github request rejected", "path", statusErr.Path, "status", statusErr.Code)
		writeError(w, statusErr.Code, "github_error", message)
	case github.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "github_timeout", "GitHub API timed out")
	default:
		s.logger.Error("server: github request failed", "err", err)
		writeError(w, http.StatusBadGateway, "github_unavailable", message)
	}
}

// queryInt reads a positive integer query parameter, returning def when it
// is absent.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
