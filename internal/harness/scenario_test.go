package harness

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadScenario_ParsesFullShape(t *testing.T) {
	path := t.TempDir() + "/full.yaml"
	writeFile(t, path, `
name: full
description: exercises every field
collections: [notes, todos]
maxRetries: 3
beforeRetry: drop-all
steps:
  - submit:
      fn: scripted
      outcomes: [fail, ok]
      mutations:
        - key: note-1
          type: update
          collection: notes
          original: {title: a}
          modified: {title: b}
      metadata: {source: test}
  - advance: 1500ms
  - restart: true
  - online: true
assertions:
  outboxCount: 0
  pendingCount: 0
  waiters:
    0: unsettled
  retryCounts:
    0: 1
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	require.Equal(t, "full", s.Name)
	require.Equal(t, []string{"notes", "todos"}, s.Collections)
	require.Equal(t, 3, s.MaxRetries)
	require.Equal(t, "drop-all", s.BeforeRetry)
	require.Len(t, s.Steps, 4)

	submit := s.Steps[0].Submit
	require.NotNil(t, submit)
	require.Equal(t, []string{"fail", "ok"}, submit.Outcomes)
	require.Equal(t, "update", submit.Mutations[0].Type)
	require.Equal(t, map[string]any{"source": "test"}, submit.Metadata)

	require.Equal(t, "1500ms", s.Steps[1].Advance)
	require.True(t, s.Steps[2].Restart)
	require.True(t, s.Steps[3].Online)

	require.NotNil(t, s.Assertions.OutboxCount)
	require.Equal(t, 0, *s.Assertions.OutboxCount)
	require.Equal(t, "unsettled", s.Assertions.Waiters[0])
	require.Equal(t, 1, s.Assertions.RetryCounts[0])
}

func TestLoadScenario_RequiresName(t *testing.T) {
	path := t.TempDir() + "/noname.yaml"
	writeFile(t, path, `
collections: [notes]
steps: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_RequiresCollections(t *testing.T) {
	path := t.TempDir() + "/nocoll.yaml"
	writeFile(t, path, `
name: nocoll
steps: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_RejectsUnknownFilter(t *testing.T) {
	path := t.TempDir() + "/filter.yaml"
	writeFile(t, path, `
name: filter
collections: [notes]
beforeRetry: keep-some
steps: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}
