package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectionRegistry(t *testing.T) {
	reg := collectionRegistry([]string{"notes", "todos"})
	require.Len(t, reg, 2)
	assert.Equal(t, "notes", reg["notes"].ID())
	assert.Equal(t, "todos", reg["todos"].ID())
}

func TestBuildStorage_Memory(t *testing.T) {
	storage, closer, err := buildStorage(DaemonConfig{Storage: "memory"}, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	require.NoError(t, storage.Set(context.Background(), "k", "v"))
	value, ok, err := storage.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestBuildStorage_SQLite(t *testing.T) {
	cfg := DaemonConfig{
		Storage:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "relay.db"),
	}
	storage, closer, err := buildStorage(cfg, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	require.NoError(t, storage.Set(context.Background(), "k", "v"))
}

func TestBuildStorage_Unknown(t *testing.T) {
	_, _, err := buildStorage(DaemonConfig{Storage: "tape"}, zap.NewNop())
	require.Error(t, err)
}

func TestBuildElection_Static(t *testing.T) {
	election, closer, err := buildElection(DaemonConfig{Election: "static"}, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	leader, err := election.RequestLeadership(context.Background())
	require.NoError(t, err)
	assert.True(t, leader)
}

func TestBuildElection_Unknown(t *testing.T) {
	_, _, err := buildElection(DaemonConfig{Election: "paxos"}, zap.NewNop())
	require.Error(t, err)
}

func TestPeekCommand_EmptyOutbox(t *testing.T) {
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{
		"peek",
		"--config", writeConfig(t),
	})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "outbox is empty")
}

func TestClearCommand_WithYes(t *testing.T) {
	cfgPath := writeConfig(t)

	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"clear", "--yes", "--config", cfgPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "outbox cleared")
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relayd.yaml")
	content := "remote:\n  url: https://api.example.com/mutations\n" +
		"collections: [notes]\n" +
		"storage:\n  kind: sqlite\n  sqlite_path: " + filepath.Join(dir, "relay.db") + "\n"
	writeTestFile(t, path, content)
	return path
}
