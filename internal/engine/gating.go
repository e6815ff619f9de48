package engine

import (
	"strings"

	"github.com/coderbot/coderbot/internal/events"
)

// issueKeywords trigger a response on new or edited issues even without an
// explicit mention.
var issueKeywords = []string{"help", "assist", "code", "bug", "fix", "implement", "feature"}

// Gate decides whether an inbound event warrants a model response.
type Gate struct {
	botHandle     string
	editThreshold int
}

// NewGate builds a gate for the given bot handle. editThreshold is the body
// length delta above which an edit counts as significant.
func NewGate(botHandle string, editThreshold int) *Gate {
	return &Gate{botHandle: botHandle, editThreshold: editThreshold}
}

func isBot(sender events.Account) bool {
	return sender.Type == "Bot"
}

// mentioned reports whether any of the texts contains @botHandle,
// case-insensitively.
func (g *Gate) mentioned(texts ...string) bool {
	needle := strings.ToLower("@" + g.botHandle)
	for _, text := range texts {
		if strings.Contains(strings.ToLower(text), needle) {
			return true
		}
	}
	return false
}

func containsKeyword(texts ...string) bool {
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range issueKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// ShouldRespondToIssue gates new and edited issues: never answer other bots,
// answer mentions, and answer issues whose title or body asks for coding help.
func (g *Gate) ShouldRespondToIssue(ev *events.IssuesEvent) bool {
	if isBot(ev.Sender) {
		return false
	}
	if g.mentioned(ev.Issue.Title, ev.Issue.Body) {
		return true
	}
	return containsKeyword(ev.Issue.Title, ev.Issue.Body)
}

// ShouldRespondToComment gates issue comments: mention required.
func (g *Gate) ShouldRespondToComment(ev *events.IssueCommentEvent) bool {
	if isBot(ev.Sender) {
		return false
	}
	return g.mentioned(ev.Comment.Body)
}

// ShouldRespondToPR gates pull request events: mention in title or body.
func (g *Gate) ShouldRespondToPR(ev *events.PullRequestEvent) bool {
	if isBot(ev.Sender) {
		return false
	}
	return g.mentioned(ev.PullRequest.Title, ev.PullRequest.Body)
}

// ShouldRespondToReview gates submitted reviews: mention required, and a
// review without a body never triggers.
func (g *Gate) ShouldRespondToReview(ev *events.ReviewEvent) bool {
	if isBot(ev.Sender) {
		return false
	}
	if ev.Review.Body == "" {
		return false
	}
	return g.mentioned(ev.Review.Body)
}

// ShouldRespondToReviewComment gates inline review comments: mention required.
func (g *Gate) ShouldRespondToReviewComment(ev *events.ReviewCommentEvent) bool {
	if isBot(ev.Sender) {
		return false
	}
	return g.mentioned(ev.Comment.Body)
}

// SignificantEdit reports whether an edit warrants a fresh response on top of
// being recorded. Title changes always count; body changes count when the
// length delta exceeds the threshold.
func (g *Gate) SignificantEdit(changes *events.Changes, newBody string) bool {
	if changes == nil {
		return false
	}
	if changes.Title != nil {
		return true
	}
	if changes.Body != nil {
		delta := len(changes.Body.From) - len(newBody)
		if delta < 0 {
			delta = -delta
		}
		return delta > g.editThreshold
	}
	return false
}
