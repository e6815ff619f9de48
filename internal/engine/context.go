package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/coderbot/coderbot/internal/ai"
	"github.com/coderbot/coderbot/internal/events"
)

// wellKnownFiles are fetched into the model context when present at the
// repository root.
var wellKnownFiles = []string{"README.md", "package.json", "requirements.txt", "Cargo.toml", "go.mod"}

const maxTreeEntries = 20

// ContextBuilder assembles the bounded repository snapshot for the model.
// Every fetch failure degrades to a smaller snapshot; building never fails.
type ContextBuilder struct {
	transport    Transport
	maxFileBytes int
}

// NewContextBuilder returns a builder using transport, excluding files
// larger than maxFileBytes from the snapshot.
func NewContextBuilder(transport Transport, maxFileBytes int) *ContextBuilder {
	return &ContextBuilder{transport: transport, maxFileBytes: maxFileBytes}
}

// Build returns the repository context for a delivery: metadata from the
// payload, the root tree capped at 20 entries, and the contents of any
// well-known files under the size ceiling.
func (b *ContextBuilder) Build(ctx context.Context, installationID int64, repo events.Repository) ai.RepoContext {
	defaultBranch := repo.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	rc := ai.RepoContext{
		Repository: ai.RepoInfo{
			Name:          repo.Name,
			FullName:      repo.FullName,
			Description:   repo.Description,
			Language:      repo.Language,
			DefaultBranch: defaultBranch,
		},
	}

	entries, err := b.transport.ListTree(ctx, installationID, repo.FullName, "", defaultBranch)
	if err != nil {
		log.Warn().Err(err).Str("repo", repo.FullName).Msg("repository tree unavailable, continuing without structure")
		return rc
	}

	for i, entry := range entries {
		if i >= maxTreeEntries {
			break
		}
		rc.Structure = append(rc.Structure, ai.TreeItem{Path: entry.Path, Type: entry.Type})
	}

	for _, entry := range entries {
		if entry.Type != "file" || !isWellKnown(entry.Name) {
			continue
		}
		if entry.Size > b.maxFileBytes {
			log.Debug().Str("path", entry.Path).Int("size", entry.Size).Msg("skipping oversized context file")
			continue
		}
		content, err := b.transport.GetFile(ctx, installationID, repo.FullName, entry.Path, defaultBranch)
		if err != nil {
			log.Warn().Err(err).Str("path", entry.Path).Msg("context file fetch failed, skipping")
			continue
		}
		if len(content) > b.maxFileBytes {
			continue
		}
		rc.Files = append(rc.Files, ai.FileContent{Path: entry.Path, Content: content})
	}

	return rc
}

func isWellKnown(name string) bool {
	for _, known := range wellKnownFiles {
		if name == known {
			return true
		}
	}
	return false
}
