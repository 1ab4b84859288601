package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmagee/quartet-epcis/internal/epcis"
)

// Scenario defines a conformance test scenario: one or more event runs
// fed through the engine, with the resulting ledger state snapshotted
// against a golden file.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Loose selects the loose capture engine instead of the
	// rule-enforcing one.
	Loose bool `yaml:"loose,omitempty"`

	// NoRecursiveDecommission disables cascading decommission.
	NoRecursiveDecommission bool `yaml:"no_recursive_decommission,omitempty"`

	// Runs are independent messages, each processed as one run.
	// Earlier runs commit before later ones start, so a failing run
	// leaves the prior runs' state intact.
	Runs []ScenarioRun `yaml:"runs"`

	// ExpectError is the validation error code the final run must fail
	// with. Empty means every run must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ScenarioRun is one inbound message.
type ScenarioRun struct {
	Events []EventStep `yaml:"events"`
}

// EventStep is the YAML shape of one decoded event.
type EventStep struct {
	Type        string    `yaml:"type"`
	Action      string    `yaml:"action,omitempty"`
	EventID     string    `yaml:"event_id,omitempty"`
	EventTime   time.Time `yaml:"event_time"`
	BizStep     string    `yaml:"biz_step,omitempty"`
	Disposition string    `yaml:"disposition,omitempty"`

	EPCs       []string `yaml:"epc_list,omitempty"`
	ParentID   string   `yaml:"parent_id,omitempty"`
	ChildEPCs  []string `yaml:"child_epcs,omitempty"`
	InputEPCs  []string `yaml:"input_epcs,omitempty"`
	OutputEPCs []string `yaml:"output_epcs,omitempty"`

	TransformationID string `yaml:"transformation_id,omitempty"`
}

// Event converts the step to its decoded form.
func (s *EventStep) Event() epcis.Event {
	return epcis.Event{
		Type:             epcis.EventType(s.Type),
		Action:           epcis.Action(s.Action),
		EventID:          s.EventID,
		EventTime:        s.EventTime,
		BizStep:          s.BizStep,
		Disposition:      s.Disposition,
		EPCs:             s.EPCs,
		ParentID:         s.ParentID,
		ChildEPCs:        s.ChildEPCs,
		InputEPCs:        s.InputEPCs,
		OutputEPCs:       s.OutputEPCs,
		TransformationID: s.TransformationID,
	}
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so fixture typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	for i, run := range s.Runs {
		if len(run.Events) == 0 {
			return fmt.Errorf("runs[%d]: events list must be non-empty", i)
		}
	}
	return nil
}

// identifiers collects every EPC the scenario references, in first-seen
// order.
func (s *Scenario) identifiers() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, run := range s.Runs {
		for _, step := range run.Events {
			add(step.EPCs...)
			add(step.ParentID)
			add(step.ChildEPCs...)
			add(step.InputEPCs...)
			add(step.OutputEPCs...)
		}
	}
	return out
}
