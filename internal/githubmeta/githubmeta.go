// Package githubmeta probes the remote hosting service for repository
// existence, archived state, and description, batching the probe over
// GraphQL when authenticated and falling back to sequential REST calls.
package githubmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/archiveforge/gitarchiver/internal/model"
)

var ownerNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const graphQLEndpoint = "https://api.github.com/graphql"

// RepoMeta is the result of probing one owner/name pair.
type RepoMeta struct {
	Owner       string
	Name        string
	Description string
	Archived    bool
	Private     bool
	NotFound    bool
}

// RateLimit mirrors GitHub's core rate-limit window.
type RateLimit struct {
	Limit      int
	Remaining  int
	ResetEpoch int64
}

// Status is the classification produced from a RepoMeta.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Client probes the remote hosting service. New points REST calls at the
// production host; NewWithBaseURL points them at another base. The GraphQL
// batch endpoint is always the production host.
type Client struct {
	rest       *github.Client
	httpClient *http.Client
	token      string
	baseURL    string

	mu          sync.Mutex
	cachedLimit *RateLimit
	cachedAt    time.Time
}

const rateLimitTTL = 60 * time.Second

// New builds a Client. token may be empty, in which case all calls run
// unauthenticated and batch() always falls back to sequential REST.
func New(token string) *Client {
	httpClient := http.DefaultClient
	if token != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		))
	}
	rest := github.NewClient(httpClient)
	rest.UserAgent = userAgent
	return &Client{
		rest:       rest,
		httpClient: httpClient,
		token:      token,
		baseURL:    "https://api.github.com",
	}
}

// NewWithBaseURL points REST calls at an arbitrary base: the daemon passes
// its configured GitHubBaseURL, tests pass an httptest.Server. The GraphQL
// batch endpoint is not affected.
func NewWithBaseURL(token, baseURL string) (*Client, error) {
	c := New(token)
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, model.HTTP(err, "failed to configure client base URL")
	}
	c.rest.BaseURL = parsed
	c.baseURL = baseURL
	return c, nil
}

// GetOne probes a single repository via REST GET /repos/{owner}/{name}.
func (c *Client) GetOne(ctx context.Context, owner, name string) (RepoMeta, error) {
	if err := validateOwnerName(owner, name); err != nil {
		return RepoMeta{}, err
	}

	repo, resp, err := c.rest.Repositories.Get(ctx, owner, name)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return RepoMeta{Owner: owner, Name: name, NotFound: true}, nil
	}
	if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) {
		return RepoMeta{}, model.UserVisible("rate limit")
	}
	if err != nil {
		if resp != nil {
			return RepoMeta{}, model.Custom("remote metadata request failed with status %d", resp.StatusCode)
		}
		return RepoMeta{}, model.HTTP(err, "failed to fetch %s/%s", owner, name)
	}

	return RepoMeta{
		Owner:       owner,
		Name:        name,
		Description: repo.GetDescription(),
		Archived:    repo.GetArchived(),
		Private:     repo.GetPrivate(),
	}, nil
}

// Batch probes many owner/name pairs, returning a slice aligned with the
// input order. If the client is authenticated, it attempts a single
// GraphQL call aliasing repoN: repository(owner:"…", name:"…"){...} for
// each pair; on any failure (transport, status, or parse) it falls back
// to sequential GetOne calls.
func (c *Client) Batch(ctx context.Context, pairs [][2]string) ([]RepoMeta, error) {
	for _, p := range pairs {
		if err := validateOwnerName(p[0], p[1]); err != nil {
			return nil, err
		}
	}

	if c.token != "" {
		if results, err := c.graphQLBatch(ctx, pairs); err == nil {
			return results, nil
		}
	}

	out := make([]RepoMeta, len(pairs))
	for i, p := range pairs {
		meta, err := c.GetOne(ctx, p[0], p[1])
		if err != nil {
			return nil, err
		}
		out[i] = meta
	}
	return out, nil
}

// graphQLBatch hand-builds a dynamically aliased query, since a static
// struct-bound GraphQL client cannot express a query whose arity is only
// known at runtime.
func (c *Client) graphQLBatch(ctx context.Context, pairs [][2]string) ([]RepoMeta, error) {
	var b strings.Builder
	b.WriteString("query {")
	for i, p := range pairs {
		fmt.Fprintf(&b, ` repo%d: repository(owner: %q, name: %q) { name owner { login } description isArchived isPrivate }`, i, p[0], p[1])
	}
	b.WriteString(" }")

	body, err := json.Marshal(map[string]string{"query": b.String()})
	if err != nil {
		return nil, model.JSON(err, "failed to encode graphql query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphQLEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, model.HTTP(err, "failed to build graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.HTTP(err, "graphql request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.HTTP(err, "failed to read graphql response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.Custom("graphql request returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data   map[string]*graphQLRepo `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, model.JSON(err, "failed to parse graphql response")
	}

	out := make([]RepoMeta, len(pairs))
	for i, p := range pairs {
		node := parsed.Data[fmt.Sprintf("repo%d", i)]
		if node == nil {
			out[i] = RepoMeta{Owner: p[0], Name: p[1], NotFound: true}
			continue
		}
		out[i] = RepoMeta{
			Owner:       p[0],
			Name:        p[1],
			Description: node.Description,
			Archived:    node.IsArchived,
			Private:     node.IsPrivate,
		}
	}
	return out, nil
}

type graphQLRepo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsArchived  bool   `json:"isArchived"`
	IsPrivate   bool   `json:"isPrivate"`
}

const userAgent = "git-archiver"

// RateLimit fetches (and caches for rateLimitTTL) the current rate-limit
// window, to avoid hammering GET /rate_limit before every batch.
func (c *Client) RateLimit(ctx context.Context) (RateLimit, error) {
	c.mu.Lock()
	if c.cachedLimit != nil && time.Since(c.cachedAt) < rateLimitTTL {
		defer c.mu.Unlock()
		return *c.cachedLimit, nil
	}
	c.mu.Unlock()

	limits, _, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return RateLimit{}, model.HTTP(err, "failed to fetch rate limit")
	}
	core := limits.GetCore()
	result := RateLimit{
		Limit:      core.Limit,
		Remaining:  core.Remaining,
		ResetEpoch: core.Reset.Unix(),
	}

	c.mu.Lock()
	c.cachedLimit = &result
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return result, nil
}

// Classify maps each RepoMeta to its catalog Status: not_found -> Deleted,
// archived -> Archived, else Active.
func Classify(metas []RepoMeta) []Status {
	out := make([]Status, len(metas))
	for i, m := range metas {
		switch {
		case m.NotFound:
			out[i] = StatusDeleted
		case m.Archived:
			out[i] = StatusArchived
		default:
			out[i] = StatusActive
		}
	}
	return out
}

func validateOwnerName(owner, name string) error {
	if !ownerNamePattern.MatchString(owner) || !ownerNamePattern.MatchString(name) {
		return model.BadInput("owner/name must match [A-Za-z0-9._-]+")
	}
	return nil
}
