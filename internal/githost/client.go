package githost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v79/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type Branch struct {
	Name    string
	Default bool
}

type Entry struct {
	Name string
	Path string
	Type string
}

// HostClient is the surface of the Git hosting provider the orchestration
// core depends on.
type HostClient interface {
	CreateRepo(ctx context.Context, name string, private, autoInit bool) error
	DeleteRepo(ctx context.Context, owner, name string) error
	ListBranches(ctx context.Context, owner, repo string) ([]Branch, error)
	ListContents(ctx context.Context, owner, repo, path, ref string) ([]Entry, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
	PutFile(ctx context.Context, owner, repo, path, branch, message, content string) error
	SetRepoVisibility(ctx context.Context, owner, repo string, private bool) error
	Request(ctx context.Context, method, path string, body any) (json.RawMessage, error)
}

type GitHubClient struct {
	client     *github.Client
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewGitHubClient(token string, logger *zap.Logger) *GitHubClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(token)})
	tc := oauth2.NewClient(context.Background(), ts)
	return &GitHubClient{
		client:     github.NewClient(tc),
		logger:     logger,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *GitHubClient) CreateRepo(ctx context.Context, name string, private, autoInit bool) error {
	_, _, err := c.client.Repositories.Create(ctx, "", &github.Repository{
		Name:     github.Ptr(name),
		Private:  github.Ptr(private),
		AutoInit: github.Ptr(autoInit),
	})
	if err != nil {
		return fmt.Errorf("create repo %s: %w", name, err)
	}
	c.logger.Info("repository created", zap.String("repo", name), zap.Bool("private", private))
	return nil
}

func (c *GitHubClient) DeleteRepo(ctx context.Context, owner, name string) error {
	_, err := c.client.Repositories.Delete(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("delete repo %s/%s: %w", owner, name, err)
	}
	c.logger.Info("repository deleted", zap.String("owner", owner), zap.String("repo", name))
	return nil
}

func (c *GitHubClient) ListBranches(ctx context.Context, owner, repo string) ([]Branch, error) {
	defaultBranch := ""
	if repoInfo, _, err := c.client.Repositories.Get(ctx, owner, repo); err == nil {
		defaultBranch = repoInfo.GetDefaultBranch()
	}
	raw, _, err := c.client.Repositories.ListBranches(ctx, owner, repo, &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("list branches %s/%s: %w", owner, repo, err)
	}
	branches := make([]Branch, 0, len(raw))
	for _, b := range raw {
		name := b.GetName()
		branches = append(branches, Branch{Name: name, Default: name != "" && name == defaultBranch})
	}
	return branches, nil
}

func (c *GitHubClient) ListContents(ctx context.Context, owner, repo, path, ref string) ([]Entry, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, dir, _, err := c.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("list contents %s/%s %s: %w", owner, repo, path, err)
	}
	if dir == nil {
		if file != nil {
			return nil, fmt.Errorf("contents of %s/%s at %q is a file, not a listing", owner, repo, path)
		}
		return nil, fmt.Errorf("contents of %s/%s at %q is not a listing", owner, repo, path)
	}
	entries := make([]Entry, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, Entry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Type: item.GetType(),
		})
	}
	return entries, nil
}

func (c *GitHubClient) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, _, _, err := c.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return "", fmt.Errorf("get file %s/%s %s: %w", owner, repo, path, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode file %s: %w", path, err)
	}
	return content, nil
}

func (c *GitHubClient) PutFile(ctx context.Context, owner, repo, path, branch, message, content string) error {
	if message == "" {
		message = "Add " + path
	}
	_, _, err := c.client.Repositories.CreateFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
		Branch:  github.Ptr(branch),
	})
	if err != nil {
		return fmt.Errorf("put file %s/%s %s: %w", owner, repo, path, err)
	}
	return nil
}

func (c *GitHubClient) SetRepoVisibility(ctx context.Context, owner, repo string, private bool) error {
	_, _, err := c.client.Repositories.Edit(ctx, owner, repo, &github.Repository{
		Private: github.Ptr(private),
	})
	if err != nil {
		return fmt.Errorf("set visibility %s/%s: %w", owner, repo, err)
	}
	c.logger.Info("repository visibility updated", zap.String("owner", owner), zap.String("repo", repo), zap.Bool("private", private))
	return nil
}

// Request issues a raw provider API call with bounded retry on rate limits
// and server errors.
func (c *GitHubClient) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	path = strings.TrimPrefix(path, "/")
	for attempt := 0; ; attempt++ {
		req, err := c.client.NewRequest(method, path, body)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		_, err = c.client.Do(ctx, req, &buf)
		if err == nil {
			return json.RawMessage(buf.Bytes()), nil
		}
		code := StatusCode(err)
		if (code == http.StatusTooManyRequests || code >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, err
	}
}

func (c *GitHubClient) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
