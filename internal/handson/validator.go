// Package handson validates proof-of-work submissions against their
// requirement definitions: GitHub profiles and forks, deployed applications,
// CTF tokens, repository file patterns and container images.
package handson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgepath/forgepath/internal/content"
)

// ErrTransient marks a validation that could not be completed because of an
// upstream failure. The submission is neither accepted nor rejected and the
// learner may retry.
var ErrTransient = errors.New("validation temporarily unavailable")

// Result is the outcome of validating a submission value.
type Result struct {
	Valid  bool
	Detail string
}

// Validator checks submission values. GitHub-backed kinds go through gh,
// deployed-app and registry probes through httpClient.
type Validator struct {
	gh         *github.Client
	httpClient *http.Client
}

// NewValidator creates a validator. Pass a token-authenticated GitHub client
// to avoid anonymous rate limits; httpClient may be nil for a default.
func NewValidator(gh *github.Client, httpClient *http.Client) *Validator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Validator{gh: gh, httpClient: httpClient}
}

// Validate checks value against the requirement. A Result with Valid=false
// means the submission itself is wrong; a non-nil error wrapping ErrTransient
// means the check could not run.
func (v *Validator) Validate(ctx context.Context, req content.HandsOnRequirement, value string) (Result, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Result{Detail: "empty submission"}, nil
	}

	switch req.Kind {
	case content.KindProfileURL:
		return v.validateProfile(ctx, value)
	case content.KindRepoFork:
		return v.validateFork(ctx, req.Params["parent"], value)
	case content.KindDeployedApp:
		return v.validateDeployedApp(ctx, req.Params["must_contain"], value)
	case content.KindCTFToken:
		return validateCTFToken(req.Params["token_hash"], value)
	case content.KindFilePattern:
		return v.validateFilePattern(ctx, req.Params["pattern"], value)
	case content.KindContainerImage:
		return v.validateContainerImage(ctx, value)
	default:
		return Result{}, fmt.Errorf("unknown requirement kind %q", req.Kind)
	}
}

func (v *Validator) validateProfile(ctx context.Context, value string) (Result, error) {
	username, err := githubUser(value)
	if err != nil {
		return Result{Detail: err.Error()}, nil
	}

	user, resp, err := v.gh.Users.Get(ctx, username)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Result{Detail: fmt.Sprintf("github user %q not found", username)}, nil
		}
		return Result{}, fmt.Errorf("%w: github users lookup: %v", ErrTransient, err)
	}
	return Result{Valid: true, Detail: "profile " + user.GetLogin() + " exists"}, nil
}

func (v *Validator) validateFork(ctx context.Context, parent, value string) (Result, error) {
	if parent == "" {
		return Result{}, fmt.Errorf("repo_fork requirement missing parent param")
	}
	owner, repo, err := githubRepo(value)
	if err != nil {
		return Result{Detail: err.Error()}, nil
	}

	r, resp, err := v.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Result{Detail: fmt.Sprintf("repository %s/%s not found", owner, repo)}, nil
		}
		return Result{}, fmt.Errorf("%w: github repo lookup: %v", ErrTransient, err)
	}
	if !r.GetFork() {
		return Result{Detail: fmt.Sprintf("%s/%s is not a fork", owner, repo)}, nil
	}
	if got := r.GetParent().GetFullName(); !strings.EqualFold(got, parent) {
		return Result{Detail: fmt.Sprintf("fork of %s, expected %s", got, parent)}, nil
	}
	return Result{Valid: true, Detail: "fork of " + parent}, nil
}

func (v *Validator) validateDeployedApp(ctx context.Context, mustContain, value string) (Result, error) {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{Detail: "not an http(s) URL"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{Detail: "invalid URL"}, nil
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		// An unreachable host is the learner's problem, not ours: the
		// submitted deployment should be up.
		return Result{Detail: fmt.Sprintf("unreachable: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{Detail: fmt.Sprintf("responded %d", resp.StatusCode)}, nil
	}
	if mustContain != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return Result{Detail: fmt.Sprintf("reading response: %v", err)}, nil
		}
		if !strings.Contains(string(body), mustContain) {
			return Result{Detail: "expected content not found in response"}, nil
		}
	}
	return Result{Valid: true, Detail: fmt.Sprintf("responded %d", resp.StatusCode)}, nil
}

// validateCTFToken compares the submitted token against the bcrypt hash from
// the requirement params. Content never carries the plaintext token.
func validateCTFToken(tokenHash, value string) (Result, error) {
	if tokenHash == "" {
		return Result{}, fmt.Errorf("ctf_token requirement missing token_hash param")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(value)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Result{Detail: "wrong token"}, nil
		}
		return Result{}, fmt.Errorf("comparing token hash: %w", err)
	}
	return Result{Valid: true, Detail: "token accepted"}, nil
}

func (v *Validator) validateFilePattern(ctx context.Context, pattern, value string) (Result, error) {
	if pattern == "" {
		return Result{}, fmt.Errorf("file_pattern requirement missing pattern param")
	}
	owner, repo, err := githubRepo(value)
	if err != nil {
		return Result{Detail: err.Error()}, nil
	}

	r, resp, err := v.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Result{Detail: fmt.Sprintf("repository %s/%s not found", owner, repo)}, nil
		}
		return Result{}, fmt.Errorf("%w: github repo lookup: %v", ErrTransient, err)
	}

	tree, resp, err := v.gh.Git.GetTree(ctx, owner, repo, r.GetDefaultBranch(), true)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Result{Detail: "repository is empty"}, nil
		}
		return Result{}, fmt.Errorf("%w: github tree lookup: %v", ErrTransient, err)
	}
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		if ok, _ := path.Match(pattern, entry.GetPath()); ok {
			return Result{Valid: true, Detail: "matched " + entry.GetPath()}, nil
		}
	}
	return Result{Detail: fmt.Sprintf("no file matching %q", pattern)}, nil
}

// validateContainerImage issues a registry v2 manifest HEAD for the submitted
// image reference. Bare names default to Docker Hub.
func (v *Validator) validateContainerImage(ctx context.Context, value string) (Result, error) {
	host, name, tag, err := parseImageRef(value)
	if err != nil {
		return Result{Detail: err.Error()}, nil
	}

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", host, name, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return Result{Detail: "invalid image reference"}, nil
	}
	req.Header.Set("Accept", "application/vnd.oci.image.index.v1+json, application/vnd.docker.distribution.manifest.v2+json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: registry probe: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Result{Valid: true, Detail: "manifest found"}, nil
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		// Registries answer 401 for missing repos too; either way the
		// image is not publicly pullable, which is what we require.
		return Result{Detail: fmt.Sprintf("image not pullable (registry responded %d)", resp.StatusCode)}, nil
	default:
		return Result{}, fmt.Errorf("%w: registry responded %d", ErrTransient, resp.StatusCode)
	}
}

// githubUser extracts a username from a profile URL or a bare login.
func githubUser(value string) (string, error) {
	if !strings.Contains(value, "/") {
		return value, nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("not a profile URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 1 || parts[0] == "" {
		return "", fmt.Errorf("expected a profile URL like https://github.com/<user>")
	}
	return parts[0], nil
}

// githubRepo extracts owner and repository from a repo URL or "owner/repo".
func githubRepo(value string) (owner, repo string, err error) {
	trimmed := value
	if u, perr := url.Parse(value); perr == nil && u.Host != "" {
		trimmed = strings.Trim(u.Path, "/")
	}
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected a repository like https://github.com/<owner>/<repo>")
	}
	return parts[0], parts[1], nil
}

// parseImageRef splits an image reference into registry host, repository name
// and tag. "alpine" becomes registry-1.docker.io/library/alpine:latest.
func parseImageRef(value string) (host, name, tag string, err error) {
	ref := value
	tag = "latest"
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		tag = ref[i+1:]
		ref = ref[:i]
	}
	if tag == "" {
		return "", "", "", fmt.Errorf("empty tag")
	}

	parts := strings.Split(ref, "/")
	switch {
	case len(parts) == 1:
		return "registry-1.docker.io", "library/" + parts[0], tag, nil
	case strings.ContainsAny(parts[0], ".:") || parts[0] == "localhost":
		return parts[0], strings.Join(parts[1:], "/"), tag, nil
	default:
		return "registry-1.docker.io", ref, tag, nil
	}
}
