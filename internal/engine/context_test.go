package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderbot/coderbot/internal/events"
	"github.com/coderbot/coderbot/internal/githubapp"
)

func testRepo() events.Repository {
	return events.Repository{
		Name:          "widgets",
		FullName:      "acme/widgets",
		Description:   "widget factory",
		Language:      "Go",
		DefaultBranch: "main",
	}
}

func TestBuildRepoContext(t *testing.T) {
	transport := newFakeTransport()
	transport.tree = []githubapp.TreeEntry{
		{Name: "internal", Path: "internal", Type: "dir"},
		{Name: "README.md", Path: "README.md", Type: "file", Size: 512},
		{Name: "go.mod", Path: "go.mod", Type: "file", Size: 64},
		{Name: "main.go", Path: "main.go", Type: "file", Size: 2048},
	}
	transport.files["README.md"] = "# Widgets"
	transport.files["go.mod"] = "module acme/widgets"

	b := NewContextBuilder(transport, 100000)
	rc := b.Build(context.Background(), 7, testRepo())

	assert.Equal(t, "acme/widgets", rc.Repository.FullName)
	assert.Equal(t, "main", rc.Repository.DefaultBranch)
	assert.Len(t, rc.Structure, 4)

	require.Len(t, rc.Files, 2, "only well-known files are fetched")
	paths := []string{rc.Files[0].Path, rc.Files[1].Path}
	assert.Contains(t, paths, "README.md")
	assert.Contains(t, paths, "go.mod")
}

func TestBuildRepoContextCapsTree(t *testing.T) {
	transport := newFakeTransport()
	for i := 0; i < 50; i++ {
		transport.tree = append(transport.tree, githubapp.TreeEntry{
			Name: fmt.Sprintf("f%02d.go", i), Path: fmt.Sprintf("f%02d.go", i), Type: "file",
		})
	}

	b := NewContextBuilder(transport, 100000)
	rc := b.Build(context.Background(), 7, testRepo())

	assert.Len(t, rc.Structure, 20)
}

func TestBuildRepoContextExcludesOversizedFiles(t *testing.T) {
	transport := newFakeTransport()
	transport.tree = []githubapp.TreeEntry{
		{Name: "README.md", Path: "README.md", Type: "file", Size: 200000},
		{Name: "go.mod", Path: "go.mod", Type: "file", Size: 64},
	}
	transport.files["README.md"] = strings.Repeat("x", 200000)
	transport.files["go.mod"] = "module acme/widgets"

	b := NewContextBuilder(transport, 100000)
	rc := b.Build(context.Background(), 7, testRepo())

	require.Len(t, rc.Files, 1)
	assert.Equal(t, "go.mod", rc.Files[0].Path)
}

func TestBuildRepoContextDegradesOnErrors(t *testing.T) {
	transport := newFakeTransport()
	transport.treeErr = errors.New("403 rate limited")

	b := NewContextBuilder(transport, 100000)
	rc := b.Build(context.Background(), 7, testRepo())

	assert.Equal(t, "acme/widgets", rc.Repository.FullName, "metadata survives transport failure")
	assert.Empty(t, rc.Structure)
	assert.Empty(t, rc.Files)

	// A single unreadable file degrades to a smaller snapshot.
	transport = newFakeTransport()
	transport.tree = []githubapp.TreeEntry{
		{Name: "README.md", Path: "README.md", Type: "file", Size: 100},
		{Name: "go.mod", Path: "go.mod", Type: "file", Size: 64},
	}
	transport.fileErr["README.md"] = errors.New("500 server error")
	transport.files["go.mod"] = "module acme/widgets"

	rc = NewContextBuilder(transport, 100000).Build(context.Background(), 7, testRepo())
	require.Len(t, rc.Files, 1)
	assert.Equal(t, "go.mod", rc.Files[0].Path)
}

func TestBuildRepoContextDefaultBranchFallback(t *testing.T) {
	transport := newFakeTransport()
	repo := testRepo()
	repo.DefaultBranch = ""

	rc := NewContextBuilder(transport, 100000).Build(context.Background(), 7, repo)
	assert.Equal(t, "main", rc.Repository.DefaultBranch)
}
