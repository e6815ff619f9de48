// Package events defines typed GitHub webhook payloads. Only the fields the
// engine consumes are declared; required fields are validated at decode time
// so malformed deliveries are rejected before touching any conversation.
package events

import (
	"encoding/json"
	"fmt"
)

// Repository is the payload's repository block.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	DefaultBranch string `json:"default_branch"`
}

// Installation identifies the GitHub App installation a delivery belongs to.
type Installation struct {
	ID int64 `json:"id"`
}

// Account is a user or bot account reference.
type Account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// ChangedFrom carries the previous value of an edited field.
type ChangedFrom struct {
	From string `json:"from"`
}

// Changes describes what an "edited" action changed.
type Changes struct {
	Title *ChangedFrom `json:"title"`
	Body  *ChangedFrom `json:"body"`
}

// Issue is the payload's issue block. PullRequest is non-nil when the issue
// is the discussion thread of a pull request.
type Issue struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	User        Account         `json:"user"`
	PullRequest json.RawMessage `json:"pull_request"`
}

// IsPullRequest reports whether this issue backs a pull request thread.
func (i Issue) IsPullRequest() bool {
	return len(i.PullRequest) > 0 && string(i.PullRequest) != "null"
}

// Comment is an issue comment or a review comment.
type Comment struct {
	ID   int64   `json:"id"`
	Body string  `json:"body"`
	User Account `json:"user"`
	Path string  `json:"path"`
}

// PullRequest is the payload's pull request block.
type PullRequest struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	User   Account `json:"user"`
}

// Review is a submitted pull request review.
type Review struct {
	State string  `json:"state"`
	Body  string  `json:"body"`
	User  Account `json:"user"`
}

// IssuesEvent is the "issues" webhook payload.
type IssuesEvent struct {
	Action       string       `json:"action"`
	Issue        Issue        `json:"issue"`
	Changes      *Changes     `json:"changes"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// IssueCommentEvent is the "issue_comment" webhook payload.
type IssueCommentEvent struct {
	Action       string       `json:"action"`
	Issue        Issue        `json:"issue"`
	Comment      Comment      `json:"comment"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// PullRequestEvent is the "pull_request" webhook payload.
type PullRequestEvent struct {
	Action       string       `json:"action"`
	Number       int          `json:"number"`
	PullRequest  PullRequest  `json:"pull_request"`
	Changes      *Changes     `json:"changes"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// ReviewEvent is the "pull_request_review" webhook payload.
type ReviewEvent struct {
	Action       string       `json:"action"`
	Review       Review       `json:"review"`
	PullRequest  PullRequest  `json:"pull_request"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// ReviewCommentEvent is the "pull_request_review_comment" webhook payload.
type ReviewCommentEvent struct {
	Action       string       `json:"action"`
	Comment      Comment      `json:"comment"`
	PullRequest  PullRequest  `json:"pull_request"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// InstallationEvent is the "installation" webhook payload. Its installation
// block carries the account, unlike the slim reference on other events.
type InstallationEvent struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64   `json:"id"`
		Account Account `json:"account"`
	} `json:"installation"`
	Sender Account `json:"sender"`
}

func requireBase(action string, repo Repository, inst Installation) error {
	if action == "" {
		return fmt.Errorf("missing action")
	}
	if repo.FullName == "" {
		return fmt.Errorf("missing repository.full_name")
	}
	if inst.ID == 0 {
		return fmt.Errorf("missing installation.id")
	}
	return nil
}

// ParseIssues decodes and validates an "issues" payload.
func ParseIssues(body []byte) (*IssuesEvent, error) {
	var ev IssuesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid issues payload: %w", err)
	}
	if err := requireBase(ev.Action, ev.Repository, ev.Installation); err != nil {
		return nil, err
	}
	if ev.Issue.Number == 0 {
		return nil, fmt.Errorf("missing issue.number")
	}
	return &ev, nil
}

// ParseIssueComment decodes and validates an "issue_comment" payload.
func ParseIssueComment(body []byte) (*IssueCommentEvent, error) {
	var ev IssueCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid issue_comment payload: %w", err)
	}
	if err := requireBase(ev.Action, ev.Repository, ev.Installation); err != nil {
		return nil, err
	}
	if ev.Issue.Number == 0 {
		return nil, fmt.Errorf("missing issue.number")
	}
	return &ev, nil
}

// ParsePullRequest decodes and validates a "pull_request" payload.
func ParsePullRequest(body []byte) (*PullRequestEvent, error) {
	var ev PullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid pull_request payload: %w", err)
	}
	if err := requireBase(ev.Action, ev.Repository, ev.Installation); err != nil {
		return nil, err
	}
	if ev.PullRequest.Number == 0 {
		return nil, fmt.Errorf("missing pull_request.number")
	}
	return &ev, nil
}

// ParseReview decodes and validates a "pull_request_review" payload.
func ParseReview(body []byte) (*ReviewEvent, error) {
	var ev ReviewEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid pull_request_review payload: %w", err)
	}
	if err := requireBase(ev.Action, ev.Repository, ev.Installation); err != nil {
		return nil, err
	}
	if ev.PullRequest.Number == 0 {
		return nil, fmt.Errorf("missing pull_request.number")
	}
	return &ev, nil
}

// ParseReviewComment decodes and validates a "pull_request_review_comment"
// payload.
func ParseReviewComment(body []byte) (*ReviewCommentEvent, error) {
	var ev ReviewCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid pull_request_review_comment payload: %w", err)
	}
	if err := requireBase(ev.Action, ev.Repository, ev.Installation); err != nil {
		return nil, err
	}
	if ev.PullRequest.Number == 0 {
		return nil, fmt.Errorf("missing pull_request.number")
	}
	return &ev, nil
}

// ParseInstallation decodes and validates an "installation" payload.
func ParseInstallation(body []byte) (*InstallationEvent, error) {
	var ev InstallationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid installation payload: %w", err)
	}
	if ev.Action == "" {
		return nil, fmt.Errorf("missing action")
	}
	if ev.Installation.ID == 0 {
		return nil, fmt.Errorf("missing installation.id")
	}
	return &ev, nil
}
