// Package githubpr opens a pull request against GitHub's REST API once an
// orchestrated job's branch has been pushed — the optional step 6 of
// spec.md §4.5. Grounded on kubernetes-test-infra's ciongke/cmd/test-pr
// oauth2.StaticTokenSource + oauth2.NewClient pattern: a plain
// *http.Client wrapping the token source, not a generated API client, the
// same shape the pack's own GitHub caller uses.
package githubpr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

const apiBase = "https://api.github.com"

// Client creates pull requests via a token-scoped HTTP client. DryRun
// short-circuits CreatePullRequest with a synthetic URL, matching
// ciongke/cmd/test-pr's -dry-run flag convention for environments where
// mutating GitHub calls aren't wanted (tests, local runs).
type Client struct {
	http   *http.Client
	DryRun bool
}

// New builds a Client authenticated with a personal access token or
// installation token. An empty token yields a Client whose calls will
// fail with 401 — callers should check config before wiring one in.
func New(ctx context.Context, token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Client{http: oauth2.NewClient(ctx, ts)}
}

type createPRRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

type createPRResponse struct {
	HTMLURL string `json:"html_url"`
	Number  int    `json:"number"`
}

// CreatePullRequest opens a PR from branch onto baseBranch in repoFullName
// ("owner/repo"), returning its HTML URL. Satisfies
// pkg/orchestrator.PullRequestCreator.
func (c *Client) CreatePullRequest(ctx context.Context, repoFullName, branch, baseBranch, title, body string) (string, error) {
	if c.DryRun {
		return fmt.Sprintf("https://github.com/%s/pull/0 (dry-run)", repoFullName), nil
	}

	payload, err := json.Marshal(createPRRequest{Title: title, Head: branch, Base: baseBranch, Body: body})
	if err != nil {
		return "", skyerr.Wrap(skyerr.KindInternal, "Client.CreatePullRequest", "marshal request", err)
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", apiBase, repoFullName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", skyerr.Wrap(skyerr.KindInternal, "Client.CreatePullRequest", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", skyerr.Wrap(skyerr.KindUnavailable, "Client.CreatePullRequest", "github request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", skyerr.New(skyerr.KindUnavailable, "Client.CreatePullRequest", fmt.Sprintf("github returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var created createPRResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", skyerr.Wrap(skyerr.KindInternal, "Client.CreatePullRequest", "decode response", err)
	}
	return created.HTMLURL, nil
}

// NewWithTimeout is New with an explicit client-side timeout, for callers
// that don't want CreatePullRequest blocking past a fixed deadline
// regardless of ctx.
func NewWithTimeout(ctx context.Context, token string, timeout time.Duration) *Client {
	c := New(ctx, token)
	c.http.Timeout = timeout
	return c
}
