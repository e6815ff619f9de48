package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderbot/coderbot/internal/conversation"
)

func TestBuildSystemPromptCapsStructure(t *testing.T) {
	rc := RepoContext{
		Repository: RepoInfo{FullName: "acme/widgets", Language: "Go"},
	}
	for i := 0; i < 30; i++ {
		rc.Structure = append(rc.Structure, TreeItem{Path: "pkg" + string(rune('a'+i)), Type: "dir"})
	}

	prompt := BuildSystemPrompt(rc)

	assert.Contains(t, prompt, "acme/widgets")
	assert.Contains(t, prompt, "pkg"+string(rune('a'+19)))
	assert.NotContains(t, prompt, "pkg"+string(rune('a'+20)), "structure listing capped at 20 entries")
}

func TestBuildSystemPromptTruncatesFiles(t *testing.T) {
	rc := RepoContext{
		Repository: RepoInfo{FullName: "acme/widgets"},
		Files: []FileContent{
			{Path: "README.md", Content: strings.Repeat("x", 5000)},
		},
	}

	prompt := BuildSystemPrompt(rc)

	assert.Contains(t, prompt, "README.md")
	assert.NotContains(t, prompt, strings.Repeat("x", 1001), "file content truncated in prompt")
	assert.Contains(t, prompt, strings.Repeat("x", 1000)+"...")
}

func TestFormatHistory(t *testing.T) {
	messages := []conversation.Message{
		{Role: conversation.RoleUser, Author: "alice", Content: "please fix the login bug"},
		{Role: conversation.RoleAssistant, Content: "Looking into it."},
		{Role: conversation.RoleSystem, Author: "system", Content: "PR synchronized"},
	}

	out := FormatHistory(messages, "system prompt here")

	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "system prompt here", out[0].Content)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "**alice:** please fix the login bug", out[1].Content)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "Looking into it.", out[2].Content)
	assert.Equal(t, "user", out[3].Role, "system ledger entries ride along as user turns")
	assert.Equal(t, "**system:** PR synchronized", out[3].Content)
}
