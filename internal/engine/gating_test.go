package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coderbot/coderbot/internal/events"
)

func testGate() *Gate {
	return NewGate("coder-bot", 50)
}

func TestGateIgnoresBotSenders(t *testing.T) {
	g := testGate()
	ev := &events.IssuesEvent{
		Issue:  events.Issue{Title: "please fix this bug @coder-bot"},
		Sender: events.Account{Login: "coder-bot[bot]", Type: "Bot"},
	}
	assert.False(t, g.ShouldRespondToIssue(ev))
}

func TestGateMentionIsCaseInsensitive(t *testing.T) {
	g := testGate()
	ev := &events.IssueCommentEvent{
		Comment: events.Comment{Body: "hey @Coder-Bot can you take a look?"},
		Sender:  events.Account{Login: "alice"},
	}
	assert.True(t, g.ShouldRespondToComment(ev))
}

func TestGateIssueKeywords(t *testing.T) {
	g := testGate()

	ev := &events.IssuesEvent{
		Issue:  events.Issue{Title: "Login crashes", Body: "there is a bug in the auth flow"},
		Sender: events.Account{Login: "alice"},
	}
	assert.True(t, g.ShouldRespondToIssue(ev), "keyword in body triggers")

	ev = &events.IssuesEvent{
		Issue:  events.Issue{Title: "Weekly sync notes", Body: "agenda below"},
		Sender: events.Account{Login: "alice"},
	}
	assert.False(t, g.ShouldRespondToIssue(ev), "no mention, no keyword")
}

func TestGateCommentRequiresMention(t *testing.T) {
	g := testGate()
	ev := &events.IssueCommentEvent{
		Comment: events.Comment{Body: "this bug needs a fix"},
		Sender:  events.Account{Login: "alice"},
	}
	assert.False(t, g.ShouldRespondToComment(ev), "keywords do not gate comments")
}

func TestGateReviewEmptyBody(t *testing.T) {
	g := testGate()
	ev := &events.ReviewEvent{
		Review: events.Review{State: "approved", Body: ""},
		Sender: events.Account{Login: "alice"},
	}
	assert.False(t, g.ShouldRespondToReview(ev))
}

func TestSignificantEdit(t *testing.T) {
	g := testGate()

	assert.True(t, g.SignificantEdit(&events.Changes{Title: &events.ChangedFrom{From: "old"}}, "body"),
		"title change is always significant")

	old := strings.Repeat("a", 100)
	assert.False(t, g.SignificantEdit(&events.Changes{Body: &events.ChangedFrom{From: old}}, strings.Repeat("b", 145)),
		"delta of 45 is under the threshold")
	assert.True(t, g.SignificantEdit(&events.Changes{Body: &events.ChangedFrom{From: old}}, strings.Repeat("b", 160)),
		"delta of 60 exceeds the threshold")

	assert.False(t, g.SignificantEdit(nil, "anything"))
	assert.False(t, g.SignificantEdit(&events.Changes{}, "anything"))
}
