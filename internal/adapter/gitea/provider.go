// Package gitea implements a codehost.Provider for Gitea/Forgejo instances
// using their REST API.
package gitea

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Strob0t/Conductor/internal/port/codehost"
)

// Provider answers merge-readiness queries against a Gitea/Forgejo instance.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewProvider creates a Gitea provider with the given base URL and token.
func NewProvider(baseURL, token string) *Provider {
	return &Provider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: http.DefaultClient,
	}
}

// giteaPull mirrors the JSON response from the Gitea pulls API.
type giteaPull struct {
	Number    int       `json:"number"`
	Mergeable bool      `json:"mergeable"`
	Merged    bool      `json:"merged"`
	Head      giteaHead `json:"head"`
}

type giteaHead struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type giteaCommitStatus struct {
	State string `json:"state"` // "pending", "success", "error", "failure"
}

type giteaReview struct {
	State     string `json:"state"` // "APPROVED", "REQUEST_CHANGES", ...
	Dismissed bool   `json:"dismissed"`
}

// CheckMergeReadiness inspects the open pull request for the branch and
// reports what still blocks the merge. A branch with no pull request at
// all reports every blocker set, so waiting stages keep polling.
func (p *Provider) CheckMergeReadiness(ctx context.Context, repository, branch string) (codehost.MergeReadiness, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return codehost.MergeReadiness{}, err
	}

	pull, found, err := p.findPull(ctx, owner, repo, branch)
	if err != nil {
		return codehost.MergeReadiness{}, err
	}
	if !found {
		return codehost.MergeReadiness{
			Conflicts:         true,
			FailingChecks:     true,
			UnresolvedReviews: true,
			Details:           []string{"no pull request found for branch " + branch},
		}, nil
	}
	if pull.Merged {
		return codehost.MergeReadiness{Merged: true}, nil
	}

	readiness := codehost.MergeReadiness{}
	if !pull.Mergeable {
		readiness.Conflicts = true
		readiness.Details = append(readiness.Details, "merge conflicts against base branch")
	}

	failing, detail, err := p.checksFailing(ctx, owner, repo, pull.Head.SHA)
	if err != nil {
		return codehost.MergeReadiness{}, err
	}
	if failing {
		readiness.FailingChecks = true
		readiness.Details = append(readiness.Details, detail)
	}

	unresolved, err := p.unresolvedReviews(ctx, owner, repo, pull.Number)
	if err != nil {
		return codehost.MergeReadiness{}, err
	}
	if unresolved {
		readiness.UnresolvedReviews = true
		readiness.Details = append(readiness.Details, "changes requested by reviewer")
	}

	return readiness, nil
}

// PostAttestation publishes the attestation as a comment on the branch's
// open pull request.
func (p *Provider) PostAttestation(ctx context.Context, repository, branch, body string) error {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return err
	}

	pull, found, err := p.findPull(ctx, owner, repo, branch)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("gitea: no pull request found for branch %q", branch)
	}

	payload, _ := json.Marshal(map[string]string{"body": body})
	url := fmt.Sprintf("%s/api/v1/repos/%s/%s/issues/%d/comments", p.baseURL, owner, repo, pull.Number)
	if _, err := p.doRequest(ctx, http.MethodPost, url, strings.NewReader(string(payload))); err != nil {
		return fmt.Errorf("gitea post attestation: %w", err)
	}
	return nil
}

// findPull returns the open (or recently merged) pull request whose head
// matches branch.
func (p *Provider) findPull(ctx context.Context, owner, repo, branch string) (giteaPull, bool, error) {
	url := fmt.Sprintf("%s/api/v1/repos/%s/%s/pulls?state=all&limit=50", p.baseURL, owner, repo)
	body, err := p.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return giteaPull{}, false, fmt.Errorf("gitea list pulls: %w", err)
	}

	var pulls []giteaPull
	if err := json.Unmarshal(body, &pulls); err != nil {
		return giteaPull{}, false, fmt.Errorf("gitea parse response: %w", err)
	}

	for _, pull := range pulls {
		if pull.Head.Ref == branch {
			return pull, true, nil
		}
	}
	return giteaPull{}, false, nil
}

func (p *Provider) checksFailing(ctx context.Context, owner, repo, sha string) (bool, string, error) {
	url := fmt.Sprintf("%s/api/v1/repos/%s/%s/commits/%s/status", p.baseURL, owner, repo, sha)
	body, err := p.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, "", fmt.Errorf("gitea commit status: %w", err)
	}

	var status giteaCommitStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return false, "", fmt.Errorf("gitea parse response: %w", err)
	}

	switch status.State {
	case "success", "":
		return false, "", nil
	default:
		return true, "combined status is " + status.State, nil
	}
}

func (p *Provider) unresolvedReviews(ctx context.Context, owner, repo string, number int) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/repos/%s/%s/pulls/%d/reviews", p.baseURL, owner, repo, number)
	body, err := p.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("gitea list reviews: %w", err)
	}

	var reviews []giteaReview
	if err := json.Unmarshal(body, &reviews); err != nil {
		return false, fmt.Errorf("gitea parse response: %w", err)
	}

	for _, r := range reviews {
		if r.State == "REQUEST_CHANGES" && !r.Dismissed {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) doRequest(ctx context.Context, method, reqURL string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "token "+p.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req) //nolint:gosec // G704: URL is constructed from trusted baseURL + owner/repo
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gitea API %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func parseRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", repository)
	}
	return parts[0], parts[1], nil
}
