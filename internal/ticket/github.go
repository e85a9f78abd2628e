// Package ticket opens incident tickets in an issue tracker.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"
)

// DefaultLabels are attached to every ticket in addition to the priority label.
var DefaultLabels = []string{"oncall"}

// GitHubTicketer files tickets as GitHub issues.
type GitHubTicketer struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
}

// NewGitHubClient returns a GitHub client authenticated with a static token.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// NewGitHubTicketer files issues in repository ("owner/name").
func NewGitHubTicketer(client *github.Client, repository string, labels ...string) (*GitHubTicketer, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository %q, want owner/name", repository)
	}
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &GitHubTicketer{client: client, owner: owner, repo: repo, labels: labels}, nil
}

// CreateTicket opens an issue and returns its reference, e.g. "#42".
func (g *GitHubTicketer) CreateTicket(ctx context.Context, priority, summary string) (string, error) {
	if summary == "" {
		return "", errors.New("ticket summary is empty")
	}

	labels := append([]string{"priority:" + priority}, g.labels...)
	body := fmt.Sprintf("**Priority:** %s\n\n%s", priority, summary)
	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, &github.IssueRequest{
		Title:  github.String(fmt.Sprintf("[%s] %s", priority, summary)),
		Body:   github.String(body),
		Labels: &labels,
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) {
			return "", fmt.Errorf("github rejected issue: %s", ghErr.Message)
		}
		return "", fmt.Errorf("failed to create issue: %w", err)
	}
	return fmt.Sprintf("#%d", issue.GetNumber()), nil
}
