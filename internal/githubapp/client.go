package githubapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrFileNotFound is returned by GetFile when the path does not exist at the ref.
var ErrFileNotFound = errors.New("githubapp: file not found")

// TreeEntry is one entry of a repository contents listing.
type TreeEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int    `json:"size"`
	SHA  string `json:"sha"`
}

// PullRequest is the subset of the created-PR response callers need.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// Client talks to the GitHub REST API on behalf of installations. All calls go
// through the shared rate limiter and a bounded-timeout HTTP client; a timeout
// surfaces as an ordinary error for that call.
type Client struct {
	baseURL string
	auth    *AppAuth
	tokens  *TokenCache
	http    *http.Client
	limiter *rate.Limiter

	botOnce     sync.Once
	botUsername string
}

func NewClient(baseURL string, auth *AppAuth) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5), // 5 requests per second
	}
	c.tokens = NewTokenCache(c)
	return c
}

// Tokens exposes the installation token cache for teardown on uninstall.
func (c *Client) Tokens() *TokenCache { return c.tokens }

// MintInstallationToken implements TokenMinter against the GitHub API.
func (c *Client) MintInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	appJWT, err := c.auth.AppJWT()
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	body, status, err := c.doRaw(ctx, http.MethodPost, endpoint, "Bearer "+appJWT, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to mint installation token: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("GitHub API error minting token (status %d): %s", status, string(body))
	}

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &InstallationToken{Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

// BotUsername resolves the app's slug once and caches it for the lifetime of
// the process. Falls back to "coder-bot" when the lookup fails so gating can
// still match explicit mentions of the default handle.
func (c *Client) BotUsername(ctx context.Context) string {
	c.botOnce.Do(func() {
		c.botUsername = "coder-bot"

		appJWT, err := c.auth.AppJWT()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to sign JWT for bot username lookup")
			return
		}

		body, status, err := c.doRaw(ctx, http.MethodGet, c.baseURL+"/app", "Bearer "+appJWT, nil)
		if err != nil || status != http.StatusOK {
			log.Warn().Err(err).Int("status", status).Msg("Failed to fetch app info, using fallback bot username")
			return
		}

		var app struct {
			Slug string `json:"slug"`
		}
		if err := json.Unmarshal(body, &app); err == nil && app.Slug != "" {
			c.botUsername = app.Slug
		}
	})
	return c.botUsername
}

// ListTree lists the contents of path at ref, directories first.
func (c *Client) ListTree(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]TreeEntry, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, repoFullName, escapePath(path))
	if path == "" {
		endpoint = fmt.Sprintf("%s/repos/%s/contents", c.baseURL, repoFullName)
	}
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	body, err := c.doInstallation(ctx, installationID, http.MethodGet, endpoint, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var entries []TreeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode contents listing: %w", err)
	}

	// Directories first, then files, each alphabetical. Matches what a human
	// sees in the GitHub UI and keeps prompts stable across runs.
	sortTreeEntries(entries)
	return entries, nil
}

// GetFile fetches the decoded content of a file. Returns ErrFileNotFound for
// missing paths and an error for directories.
func (c *Client) GetFile(ctx context.Context, installationID int64, repoFullName, path, ref string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, repoFullName, escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	token, err := c.tokens.Token(ctx, installationID)
	if err != nil {
		return "", err
	}
	body, status, err := c.doRaw(ctx, http.MethodGet, endpoint, "token "+token, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", ErrFileNotFound
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
	}

	var file struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal(body, &file); err != nil {
		return "", fmt.Errorf("failed to decode file response: %w", err)
	}
	if file.Type != "file" {
		return "", fmt.Errorf("path %s is a %s, not a file", path, file.Type)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode file content: %w", err)
	}
	return string(decoded), nil
}

// CreateOrUpdateFile commits content to path on branch. A non-empty sha makes
// this an update of the existing blob; otherwise a create.
func (c *Client) CreateOrUpdateFile(ctx context.Context, installationID int64, repoFullName, path, content, message, branch, sha string) error {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}

	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, repoFullName, escapePath(path))
	_, err := c.doInstallationJSON(ctx, installationID, http.MethodPut, endpoint, payload, http.StatusOK, http.StatusCreated)
	if err != nil {
		return err
	}

	log.Info().Str("repo", repoFullName).Str("path", path).Str("branch", branch).Msg("File committed")
	return nil
}

// CreateBranch creates refs/heads/name pointing at the tip of sourceBranch.
func (c *Client) CreateBranch(ctx context.Context, installationID int64, repoFullName, name, sourceBranch string) error {
	refEndpoint := fmt.Sprintf("%s/repos/%s/git/ref/%s", c.baseURL, repoFullName, escapePath("heads/"+sourceBranch))
	body, err := c.doInstallation(ctx, installationID, http.MethodGet, refEndpoint, nil, http.StatusOK)
	if err != nil {
		return fmt.Errorf("failed to resolve source branch %s: %w", sourceBranch, err)
	}

	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return fmt.Errorf("failed to decode ref response: %w", err)
	}

	payload := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": ref.Object.SHA,
	}
	_, err = c.doInstallationJSON(ctx, installationID, http.MethodPost, fmt.Sprintf("%s/repos/%s/git/refs", c.baseURL, repoFullName), payload, http.StatusCreated)
	if err != nil {
		return err
	}

	log.Info().Str("repo", repoFullName).Str("branch", name).Str("source", sourceBranch).Msg("Branch created")
	return nil
}

// CreatePullRequest opens a PR from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, installationID int64, repoFullName, title, prBody, head, base string) (*PullRequest, error) {
	payload := map[string]string{
		"title": title,
		"body":  prBody,
		"head":  head,
		"base":  base,
	}
	body, err := c.doInstallationJSON(ctx, installationID, http.MethodPost, fmt.Sprintf("%s/repos/%s/pulls", c.baseURL, repoFullName), payload, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode pull request response: %w", err)
	}

	log.Info().Str("repo", repoFullName).Int("pr_number", pr.Number).Msg("Pull request created")
	return &pr, nil
}

// CreateComment posts a comment on an issue or pull request thread.
func (c *Client) CreateComment(ctx context.Context, installationID int64, repoFullName string, issueOrPRNumber int, commentBody string) error {
	payload := map[string]string{"body": commentBody}
	endpoint := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repoFullName, issueOrPRNumber)
	_, err := c.doInstallationJSON(ctx, installationID, http.MethodPost, endpoint, payload, http.StatusCreated)
	return err
}

func (c *Client) doInstallation(ctx context.Context, installationID int64, method, endpoint string, payload io.Reader, wantStatus ...int) ([]byte, error) {
	token, err := c.tokens.Token(ctx, installationID)
	if err != nil {
		return nil, err
	}
	body, status, err := c.doRaw(ctx, method, endpoint, "token "+token, payload)
	if err != nil {
		return nil, err
	}
	for _, want := range wantStatus {
		if status == want {
			return body, nil
		}
	}
	return nil, fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
}

func (c *Client) doInstallationJSON(ctx context.Context, installationID int64, method, endpoint string, payload interface{}, wantStatus ...int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.doInstallation(ctx, installationID, method, endpoint, bytes.NewReader(data), wantStatus...)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint, authorization string, payload io.Reader) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "CoderBot")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to call GitHub API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// escapePath escapes each path segment while keeping the separators literal,
// which is what the contents and git-ref endpoints expect.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func sortTreeEntries(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if (entries[i].Type == "dir") != (entries[j].Type == "dir") {
			return entries[i].Type == "dir"
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
