package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the serialized form compared against golden files.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// RunWithGolden executes the scenario and compares its trace against the
// golden file testdata/golden/<name>.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	trace := Run(t, scenario)
	snapshot := TraceSnapshot{Scenario: scenario.Name, Trace: trace}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, scenario.Name, data)
}

// LoadAndRun loads the scenario file and runs it against its golden trace.
func LoadAndRun(t *testing.T, path string) {
	t.Helper()
	scenario, err := LoadScenario(path)
	if err != nil {
		t.Fatal(fmt.Errorf("load scenario: %w", err))
	}
	RunWithGolden(t, scenario)
}
