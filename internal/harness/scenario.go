package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a sequence of submissions,
// clock advances, restarts, and connectivity events, with assertions on the
// resulting outbox state and waiter outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario; the golden trace file shares it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Collections lists the collection ids registered with the coordinator.
	Collections []string `yaml:"collections"`

	// MaxRetries overrides the retry budget. Zero keeps the default.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// BeforeRetry selects a replay filter: "" (keep everything) or
	// "drop-all" (discard the entire outbox at replart).
	BeforeRetry string `yaml:"beforeRetry,omitempty"`

	// Steps is the scripted flow. Exactly one field per step is set.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions Assertions `yaml:"assertions"`
}

// Step is one scripted action. Jitter is always disabled in the harness so
// advance durations line up with the deterministic backoff schedule.
type Step struct {
	// Submit commits a draft with scripted per-attempt outcomes.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Advance moves the manual clock forward, firing due retry timers.
	Advance string `yaml:"advance,omitempty"`

	// Restart abandons the current coordinator without disposing it (a
	// crash) and builds a fresh one over the same storage.
	Restart bool `yaml:"restart,omitempty"`

	// Online delivers a connectivity-restored signal.
	Online bool `yaml:"online,omitempty"`
}

// SubmitStep describes one committed draft.
type SubmitStep struct {
	// Fn names the mutation function. A name absent from the scripted
	// registry exercises the unknown-function path.
	Fn string `yaml:"fn"`

	// Outcomes scripts successive attempts for this transaction:
	// "ok", "fail" (transient), or "reject" (permanent).
	Outcomes []string `yaml:"outcomes"`

	// Mutations is the staged payload.
	Mutations []MutationStep `yaml:"mutations"`

	// Metadata is carried through to the transaction.
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// MutationStep is one staged row operation.
type MutationStep struct {
	Key        string         `yaml:"key"`
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	Modified   map[string]any `yaml:"modified,omitempty"`
	Original   map[string]any `yaml:"original,omitempty"`
}

// Assertions validate the final state after all steps have quiesced.
type Assertions struct {
	// OutboxCount is the expected number of persisted transactions.
	OutboxCount *int `yaml:"outboxCount,omitempty"`

	// PendingCount is the expected scheduler depth on the live coordinator.
	PendingCount *int `yaml:"pendingCount,omitempty"`

	// Waiters maps submission index to expected outcome: "resolved",
	// "rejected", or "unsettled".
	Waiters map[int]string `yaml:"waiters,omitempty"`

	// RetryCounts maps submission index to the expected persisted
	// RetryCount. Only meaningful for transactions still in the outbox.
	RetryCounts map[int]int `yaml:"retryCounts,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Collections) == 0 {
		return fmt.Errorf("collections is required")
	}
	switch s.BeforeRetry {
	case "", "drop-all":
	default:
		return fmt.Errorf("unknown beforeRetry filter %q", s.BeforeRetry)
	}
	for i, step := range s.Steps {
		set := 0
		if step.Submit != nil {
			set++
			for _, o := range step.Submit.Outcomes {
				switch o {
				case "ok", "fail", "reject":
				default:
					return fmt.Errorf("step %d: unknown outcome %q", i, o)
				}
			}
		}
		if step.Advance != "" {
			set++
		}
		if step.Restart {
			set++
		}
		if step.Online {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one action per step, got %d", i, set)
		}
	}
	return nil
}
