package ai

import (
	"fmt"
	"strings"

	"github.com/coderbot/coderbot/internal/conversation"
)

// RepoInfo is the repository metadata included in the system prompt.
type RepoInfo struct {
	Name          string
	FullName      string
	Description   string
	Language      string
	DefaultBranch string
}

// TreeItem is one entry of the repository structure snapshot.
type TreeItem struct {
	Path string
	Type string
}

// FileContent is the content of a well-known repository file.
type FileContent struct {
	Path    string
	Content string
}

// RepoContext is the bounded repository snapshot handed to the model.
type RepoContext struct {
	Repository RepoInfo
	Structure  []TreeItem
	Files      []FileContent
}

const (
	maxStructureEntries = 20
	maxPromptFileBytes  = 1000
)

// BuildSystemPrompt renders the system prompt: bot identity, repository
// metadata, a capped structure listing, truncated key files, and the
// action JSON contract.
func BuildSystemPrompt(rc RepoContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are Coder Bot, an AI assistant that helps developers with code-related tasks in GitHub repositories.

**Repository Context:**
- Repository: %s
- Description: %s
- Primary Language: %s

**Your Capabilities:**
1. **Code Analysis**: Review, explain, and suggest improvements for code
2. **Bug Fixing**: Help identify and fix bugs in code
3. **Feature Implementation**: Assist with implementing new features
4. **Documentation**: Help with code documentation and README files
5. **Testing**: Suggest and help write tests
6. **Code Review**: Provide constructive feedback on pull requests
7. **File Operations**: Create, update, and organize files in the repository

**Repository Structure:**`,
		rc.Repository.FullName, rc.Repository.Description, rc.Repository.Language)

	if len(rc.Structure) > 0 {
		b.WriteString("\n```\n")
		for i, item := range rc.Structure {
			if i >= maxStructureEntries {
				break
			}
			marker := "file"
			if item.Type == "dir" {
				marker = "dir "
			}
			fmt.Fprintf(&b, "%s %s\n", marker, item.Path)
		}
		b.WriteString("```\n")
	}

	if len(rc.Files) > 0 {
		b.WriteString("\n**Key Files:**\n")
		for _, f := range rc.Files {
			content := f.Content
			if len(content) > maxPromptFileBytes {
				content = content[:maxPromptFileBytes] + "..."
			}
			fmt.Fprintf(&b, "\n**%s:**\n```\n%s\n```\n", f.Path, content)
		}
	}

	b.WriteString(`

**Response Guidelines:**
1. Be helpful, concise, and professional
2. Provide specific, actionable advice
3. Include code examples when relevant
4. Explain your reasoning
5. If you need to make changes to files, be explicit about what you're doing
6. Ask clarifying questions if the request is ambiguous

**Action Format:**
If you need to perform actions (create/update files, create PRs, etc.), include them in a JSON block at the end:

` + "```json" + `
{
  "actions": [
    {
      "type": "create_file|update_file|create_pr|create_branch",
      "path": "file/path",
      "content": "file content",
      "message": "commit message",
      "branch": "branch-name"
    }
  ]
}
` + "```" + `

Remember: You're here to help make the development process smoother and more efficient!
`)

	return b.String()
}

// FormatHistory converts the stored conversation ledger into model chat
// messages, with the system prompt first. User and system messages carry
// the author prefix so the model can tell speakers apart.
func FormatHistory(messages []conversation.Message, systemPrompt string) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+1)
	out = append(out, ChatMessage{Role: "system", Content: systemPrompt})

	for _, msg := range messages {
		if msg.Role == conversation.RoleAssistant {
			out = append(out, ChatMessage{Role: "assistant", Content: msg.Content})
			continue
		}
		content := msg.Content
		if msg.Author != "" && msg.Author != "unknown" {
			content = fmt.Sprintf("**%s:** %s", msg.Author, content)
		}
		out = append(out, ChatMessage{Role: "user", Content: content})
	}

	return out
}
