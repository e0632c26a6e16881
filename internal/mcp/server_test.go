package mcp_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/addongit/internal/diffengine"
	"github.com/Sumatoshi-tech/addongit/internal/extraction"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/internal/mcp"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

const testAddon = 1789

type fakeQueue struct {
	entries []extraction.Entry
}

func (f *fakeQueue) List(_ context.Context, addonID int64) ([]extraction.Entry, error) {
	var out []extraction.Entry

	for _, entry := range f.entries {
		if addonID == 0 || entry.AddonID == addonID {
			out = append(out, entry)
		}
	}

	return out, nil
}

// fixture holds a storage with one add-on repository and two commits.
type fixture struct {
	storage *gitstore.Storage
	first   string
	second  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	storage := gitstore.NewStorage(gitstore.Config{
		Root:     t.TempDir(),
		Identity: gitstore.Identity{Name: "Robot", Email: "robot@example.com"},
	})

	repo, err := storage.Repository(testAddon, gitstore.PackageAddon)
	require.NoError(t, err)

	defer repo.Close()

	git, err := repo.Git()
	require.NoError(t, err)

	f := &fixture{storage: storage}
	f.first = commitFiles(t, git, map[string]string{
		"manifest.json": "{\"version\": \"1.0\"}\n",
		"icon.png":      "\x89PNG\r\n\x1a\n\x00\x00",
	})
	f.second = commitFiles(t, git, map[string]string{
		"manifest.json": "{\"version\": \"1.1\"}\n",
		"icon.png":      "\x89PNG\r\n\x1a\n\x00\x00",
		"lib/main.js":   "console.log(1);\n",
	})

	return f
}

func commitFiles(t *testing.T, git *gitlib.Repository, files map[string]string) string {
	t.Helper()

	root := filepath.Join(git.Workdir(), gitstore.ExtractedDir)
	require.NoError(t, os.RemoveAll(root))

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	tree, err := git.StageAll()
	require.NoError(t, err)

	parent, err := git.Head()
	require.NoError(t, err)

	sig := gitlib.Signature{Name: "Robot", Email: "robot@example.com", When: time.Unix(1700000000, 0)}

	hash, err := git.CreateCommit(gitlib.HeadRef, sig, sig, "version", tree, parent)
	require.NoError(t, err)

	return hash.String()
}

func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()

		cancel()
		<-serverDone
	})

	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	return result
}

func decode[T any](t *testing.T, result *mcpsdk.CallToolResult) T {
	t.Helper()

	require.False(t, result.IsError, "tool failed: %v", text(t, result))

	var out T
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))

	return out
}

func text(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()

	content, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	return content.Text
}

func TestNewServer_ToolsRegistered(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer(mcp.ServerDeps{})

	assert.Equal(t, []string{
		mcp.ToolNameDeltas,
		mcp.ToolNameDiff,
		mcp.ToolNameFileContent,
		mcp.ToolNameFiles,
		mcp.ToolNameQueueStatus,
	}, srv.ListToolNames())
}

func TestServer_ToolsListHaveSchemas(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.NewServer(mcp.ServerDeps{}))

	tools, err := session.ListTools(t.Context(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 5)

	for _, tool := range tools.Tools {
		assert.NotNil(t, tool.InputSchema, "tool %s missing input schema", tool.Name)
	}
}

func TestServer_Diff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := connect(t, mcp.NewServer(mcp.ServerDeps{Storage: f.storage}))

	entries := decode[[]diffengine.DiffEntry](t, callTool(t, session, mcp.ToolNameDiff, map[string]any{
		"addon_id": testAddon,
		"commit":   f.second,
		"parent":   f.first,
	}))

	require.Len(t, entries, 2)
	assert.Equal(t, "lib/main.js", entries[0].Path)
	assert.Equal(t, diffengine.ModeAdded, entries[0].Mode)
	assert.Equal(t, "manifest.json", entries[1].Path)
	assert.Equal(t, diffengine.ModeModified, entries[1].Mode)
	assert.Equal(t, 1, entries[1].LinesAdded)
	assert.Equal(t, 1, entries[1].LinesDeleted)
}

func TestServer_DeltasWithPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := connect(t, mcp.NewServer(mcp.ServerDeps{Storage: f.storage}))

	entries := decode[[]diffengine.DeltaEntry](t, callTool(t, session, mcp.ToolNameDeltas, map[string]any{
		"addon_id": testAddon,
		"commit":   f.second,
		"parent":   f.first,
		"paths":    []string{"icon.png"},
	}))

	require.Len(t, entries, 1)
	assert.Equal(t, "icon.png", entries[0].Path)
	assert.Equal(t, diffengine.ModeUnmodified, entries[0].Mode)
	assert.Equal(t, mimetype.CategoryImage, entries[0].Category)
}

func TestServer_FilesAndContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := connect(t, mcp.NewServer(mcp.ServerDeps{Storage: f.storage}))

	files := decode[[]diffengine.FileEntry](t, callTool(t, session, mcp.ToolNameFiles, map[string]any{
		"addon_id": testAddon,
		"commit":   f.second,
	}))

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}

	assert.ElementsMatch(t, []string{"icon.png", "lib", "lib/main.js", "manifest.json"}, paths)

	content := decode[mcp.FileContent](t, callTool(t, session, mcp.ToolNameFileContent, map[string]any{
		"addon_id": testAddon,
		"commit":   f.second,
		"path":     "lib/main.js",
	}))
	assert.Equal(t, "console.log(1);\n", content.Text)

	binary := decode[mcp.FileContent](t, callTool(t, session, mcp.ToolNameFileContent, map[string]any{
		"addon_id": testAddon,
		"commit":   f.second,
		"path":     "icon.png",
	}))
	assert.Empty(t, binary.Text)
	assert.Equal(t, "image/png", binary.MimeType)
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := connect(t, mcp.NewServer(mcp.ServerDeps{Storage: f.storage}))

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"no commit", mcp.ToolNameDiff, map[string]any{"addon_id": testAddon}, "commit is required"},
		{"bad addon", mcp.ToolNameFiles, map[string]any{"addon_id": 0, "commit": f.first}, "addon_id must be positive"},
		{"not extracted", mcp.ToolNameFiles, map[string]any{"addon_id": 60, "commit": f.first}, "no extracted repository"},
		{"unknown commit", mcp.ToolNameDeltas, map[string]any{"addon_id": testAddon, "commit": "deadbeef"}, "not found"},
		{"missing path", mcp.ToolNameFileContent, map[string]any{
			"addon_id": testAddon, "commit": f.first, "path": "nope.js",
		}, "not found"},
		{"no queue", mcp.ToolNameQueueStatus, map[string]any{}, "not configured"},
	}

	for _, tt := range tests {
		result := callTool(t, session, tt.tool, tt.args)
		assert.True(t, result.IsError, tt.name)
		assert.Contains(t, text(t, result), tt.want, tt.name)
	}

	repo, err := f.storage.Repository(60, gitstore.PackageAddon)
	require.NoError(t, err)
	assert.False(t, repo.IsExtracted(), "reading must not create repositories")
}

func TestServer_QueueStatus(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{entries: []extraction.Entry{
		{ID: 1, AddonID: testAddon, State: extraction.StateInProgress},
		{ID: 2, AddonID: testAddon, State: extraction.StatePending},
		{ID: 3, AddonID: 60, State: extraction.StateContinuation},
	}}

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Queue: queue}))

	all := decode[[]mcp.QueueEntry](t, callTool(t, session, mcp.ToolNameQueueStatus, map[string]any{}))
	assert.Len(t, all, 3)

	one := decode[[]mcp.QueueEntry](t, callTool(t, session, mcp.ToolNameQueueStatus, map[string]any{"addon_id": 60}))
	require.Len(t, one, 1)
	assert.Equal(t, "continuation", one[0].State)
}
