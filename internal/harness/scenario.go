package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
)

// Scenario defines a simulation test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model names the mission model. Defaults to "spacecraft".
	Model string `yaml:"model,omitempty"`

	// Plan is the path to the CUE plan file.
	// Resolved relative to the scenario file by LoadScenario.
	Plan string `yaml:"plan"`

	// Horizon overrides the plan's horizon ("2h", "90m").
	Horizon string `yaml:"horizon,omitempty"`

	// Config is merged over the plan's mission-model configuration.
	Config map[string]any `yaml:"config,omitempty"`

	// Workers bounds parallel task execution. Results must not depend on it.
	Workers int `yaml:"workers,omitempty"`

	// Assertions validate the run.
	// Supported types: final_value, span_status, span_count, transcript_kinds
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_value": cell Cell holds Value at the end of the run
	// - "span_status": activity Activity ended with Status (and Result subset)
	// - "span_count": Count spans match ActivityType and Status (either optional)
	// - "transcript_kinds": activity Activity's breadcrumb kinds equal Kinds
	Type string `yaml:"type"`

	// Cell is the cell name (final_value).
	Cell string `yaml:"cell,omitempty"`

	// Value is the expected sampled value (final_value).
	Value any `yaml:"value,omitempty"`

	// Activity is the activity id (span_status, transcript_kinds).
	Activity string `yaml:"activity,omitempty"`

	// ActivityType filters spans by type (span_count).
	ActivityType string `yaml:"activity_type,omitempty"`

	// Status is a span status: completed, failed or incomplete.
	Status string `yaml:"status,omitempty"`

	// Result holds expected result fields (span_status).
	// Subset match - only specified fields are validated.
	Result map[string]any `yaml:"result,omitempty"`

	// Count is the expected number of matching spans (span_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected breadcrumb kind sequence (transcript_kinds).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalValue      = "final_value"
	AssertSpanStatus      = "span_status"
	AssertSpanCount       = "span_count"
	AssertTranscriptKinds = "transcript_kinds"
)

// LoadScenario reads and parses a scenario YAML file, resolving the plan
// path relative to the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative plan path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) && basePath != "" {
		scenario.Plan = filepath.Join(basePath, scenario.Plan)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Model != "" && s.Model != missionmodel.SpacecraftModelName {
		return fmt.Errorf("unknown model %q", s.Model)
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if _, err := os.Stat(s.Plan); os.IsNotExist(err) {
		return fmt.Errorf("plan file not found: %s", s.Plan)
	}
	if s.Horizon != "" {
		d, err := ir.ParseDuration(s.Horizon)
		if err != nil {
			return fmt.Errorf("horizon: %w", err)
		}
		if d.Negative() {
			return fmt.Errorf("horizon must not be negative")
		}
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Status != "" && !validStatus(a.Status) {
		return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
	}

	switch a.Type {
	case AssertFinalValue:
		if a.Cell == "" {
			return fmt.Errorf("assertions[%d]: cell is required for final_value", index)
		}
		if _, err := ir.FromAny(a.Value); err != nil {
			return fmt.Errorf("assertions[%d]: value: %w", index, err)
		}
	case AssertSpanStatus:
		if a.Activity == "" {
			return fmt.Errorf("assertions[%d]: activity is required for span_status", index)
		}
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for span_status", index)
		}
		if _, err := ir.MapFromAny(a.Result); err != nil {
			return fmt.Errorf("assertions[%d]: result: %w", index, err)
		}
	case AssertSpanCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for span_count", index)
		}
	case AssertTranscriptKinds:
		if a.Activity == "" {
			return fmt.Errorf("assertions[%d]: activity is required for transcript_kinds", index)
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for transcript_kinds", index)
		}
		for _, k := range a.Kinds {
			if k != ir.EntryAdvance && k != ir.EntrySpawn {
				return fmt.Errorf("assertions[%d]: unknown breadcrumb kind %q", index, k)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validStatus(s string) bool {
	switch ir.SpanStatus(s) {
	case ir.SpanCompleted, ir.SpanFailed, ir.SpanIncomplete:
		return true
	}
	return false
}
