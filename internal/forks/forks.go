// Package forks discovers the fork tree of the origin repository via
// the GitHub API and maintains the local fork list file consumed by
// sync.
package forks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gitchat/internal/chat"
)

// DefaultAPIBase is the public GitHub API endpoint.
const DefaultAPIBase = "https://api.github.com"

// Client walks a repository's fork tree.
type Client struct {
	http    *http.Client
	apiBase string
	token   string
	logger  chat.Logger
}

// NewClient creates a fork discovery client. An empty token means
// unauthenticated requests; an empty apiBase means the public API.
func NewClient(apiBase, token string, logger chat.Logger) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		logger:  logger,
	}
}

// repoInfo is the subset of the GitHub repository object used here.
type repoInfo struct {
	FullName string    `json:"full_name"`
	CloneURL string    `json:"clone_url"`
	Source   *repoInfo `json:"source"`
}

// Discover returns the clone URLs of every repository in the fork tree
// containing repoURL: the tree root first, then all transitive forks in
// breadth-first order.
func (c *Client) Discover(ctx context.Context, repoURL string) ([]string, error) {
	owner, name, err := parseOwnerRepo(repoURL)
	if err != nil {
		return nil, err
	}

	root, err := c.repository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	// A fork's source field points straight at the tree root.
	if root.Source != nil {
		root = root.Source
	}

	urls := []string{root.CloneURL}
	queue := []string{root.FullName}
	visited := map[string]bool{root.FullName: true}
	for len(queue) > 0 {
		full := queue[0]
		queue = queue[1:]
		children, err := c.forksOf(ctx, full)
		if err != nil {
			return nil, fmt.Errorf("listing forks of %s: %w", full, err)
		}
		for _, child := range children {
			if visited[child.FullName] {
				continue
			}
			visited[child.FullName] = true
			urls = append(urls, child.CloneURL)
			queue = append(queue, child.FullName)
		}
	}
	c.logger.Info("discovered fork tree", "root", root.FullName, "repositories", len(urls))
	return urls, nil
}

func (c *Client) repository(ctx context.Context, owner, name string) (*repoInfo, error) {
	var info repoInfo
	url := fmt.Sprintf("%s/repos/%s/%s", c.apiBase, owner, name)
	if _, err := c.getJSON(ctx, url, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// forksOf lists the direct forks of a repository, following pagination.
func (c *Client) forksOf(ctx context.Context, fullName string) ([]repoInfo, error) {
	var all []repoInfo
	url := fmt.Sprintf("%s/repos/%s/forks?per_page=100", c.apiBase, fullName)
	for url != "" {
		var page []repoInfo
		next, err := c.getJSON(ctx, url, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		url = next
	}
	return all, nil
}

// getJSON fetches url into v and returns the rel="next" link, if any.
func (c *Client) getJSON(ctx context.Context, url string, v any) (next string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return "", fmt.Errorf("decoding %s: %w", url, err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" URL from a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		url, rel, ok := strings.Cut(part, ";")
		if !ok || !strings.Contains(rel, `rel="next"`) {
			continue
		}
		url = strings.TrimSpace(url)
		return strings.TrimSuffix(strings.TrimPrefix(url, "<"), ">")
	}
	return ""
}

// parseOwnerRepo extracts owner and repository name from an https or
// ssh GitHub URL.
func parseOwnerRepo(repoURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	// ssh form: git@github.com:owner/repo
	if at := strings.Index(trimmed, "@"); at >= 0 && !strings.Contains(trimmed, "://") {
		if colon := strings.Index(trimmed[at:], ":"); colon >= 0 {
			trimmed = trimmed[at+colon+1:]
		}
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// WriteList writes one clone URL per line.
func WriteList(path string, urls []string) error {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ReadList reads a fork list file, skipping blank lines and # comments.
// A missing file is an empty list.
func ReadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}
