// Package suite loads and validates scenario suites. A suite is a YAML list
// of pressure scenarios; each scenario carries a contested premise, a
// normative expectation, and an ordered list of scripted user turns.
// Suites are immutable once loaded.
package suite

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Scenario categories.
const (
	CategoryFalsePremise      = "false_premise"
	CategoryAuthority         = "authority"
	CategoryMoralFraming      = "moral_framing"
	CategoryIdentityBelonging = "identity_belonging"
)

// Expectation is the normative expectation for a scenario.
type Expectation struct {
	CorrectionRequired bool `yaml:"correction_required" json:"correction_required"`
	ShouldNotValidate  bool `yaml:"should_not_validate" json:"should_not_validate"`
}

// TurnSpec is one scripted user turn. A suite may write a turn as a bare
// string (message only) or as a mapping with a pressure-tactic tag and an
// optional per-turn correction override.
type TurnSpec struct {
	Message string `yaml:"message" json:"message"`
	Tactic  string `yaml:"tactic,omitempty" json:"tactic,omitempty"`

	// CorrectionRequired overrides the scenario-level expectation for this
	// turn when set.
	CorrectionRequired *bool `yaml:"correction_required,omitempty" json:"correction_required,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (t *TurnSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Message = node.Value
		return nil
	}
	type plain TurnSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = TurnSpec(p)
	return nil
}

// Scenario is a single pressure scenario. Immutable once loaded.
type Scenario struct {
	ID               string         `yaml:"id" json:"id"`
	Category         string         `yaml:"category" json:"category"`
	ContestedPremise string         `yaml:"contested_premise" json:"contested_premise"`
	Expectation      Expectation    `yaml:"normative_expectation" json:"normative_expectation"`
	Turns            []TurnSpec     `yaml:"turns" json:"turns"`
	Notes            map[string]any `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// CorrectionRequiredAt reports whether epistemic correction is normatively
// required at the given turn index. A per-turn override wins; otherwise the
// scenario-level expectation applies.
func (s *Scenario) CorrectionRequiredAt(turnIdx int) bool {
	if turnIdx >= 0 && turnIdx < len(s.Turns) && s.Turns[turnIdx].CorrectionRequired != nil {
		return *s.Turns[turnIdx].CorrectionRequired
	}
	return s.Expectation.CorrectionRequired
}

// Suite is an ordered set of scenarios.
type Suite struct {
	Scenarios []Scenario
}

// Load reads, schema-validates, and decodes a suite YAML file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse suite YAML: %w", err)
	}
	if err := validateSchema(generic); err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}

	var scenarios []Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("failed to decode suite: %w", err)
	}

	s := &Suite{Scenarios: scenarios}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s, nil
}

func (s *Suite) validate() error {
	seen := make(map[string]bool, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		if sc.ID == "" {
			return fmt.Errorf("scenario %d: missing id", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
		if len(sc.Turns) == 0 {
			return fmt.Errorf("scenario %s: no turns", sc.ID)
		}
		for j, turn := range sc.Turns {
			if turn.Message == "" {
				return fmt.Errorf("scenario %s: turn %d has an empty message", sc.ID, j)
			}
		}
	}
	return nil
}

// Limit returns a suite truncated to at most max scenarios; max <= 0 means
// no limit.
func (s *Suite) Limit(max int) *Suite {
	if max <= 0 || max >= len(s.Scenarios) {
		return s
	}
	return &Suite{Scenarios: s.Scenarios[:max]}
}

// FilterCorrectionRequired keeps only scenarios whose expectation requires
// correction.
func (s *Suite) FilterCorrectionRequired() *Suite {
	var out []Scenario
	for _, sc := range s.Scenarios {
		if sc.Expectation.CorrectionRequired {
			out = append(out, sc)
		}
	}
	return &Suite{Scenarios: out}
}

// Hash computes the SHA-256 content hash of a suite file, recorded in run
// metadata so a run pins the exact suite snapshot it evaluated.
func Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash suite: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

var compiledSchema = jsonschema.MustCompileString("suite.schema.json", suiteSchema)

// validateSchema checks the generic YAML document against the suite schema.
// The document is round-tripped through JSON so the validator sees plain
// JSON types.
func validateSchema(doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize suite document: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("failed to normalize suite document: %w", err)
	}
	if err := compiledSchema.Validate(normalized); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

const suiteSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "category", "contested_premise", "normative_expectation", "turns"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "category": {
        "type": "string",
        "enum": ["false_premise", "authority", "moral_framing", "identity_belonging"]
      },
      "contested_premise": {"type": "string", "minLength": 1},
      "normative_expectation": {
        "type": "object",
        "required": ["correction_required", "should_not_validate"],
        "properties": {
          "correction_required": {"type": "boolean"},
          "should_not_validate": {"type": "boolean"}
        }
      },
      "turns": {
        "type": "array",
        "minItems": 1,
        "maxItems": 12,
        "items": {
          "oneOf": [
            {"type": "string", "minLength": 1},
            {
              "type": "object",
              "required": ["message"],
              "properties": {
                "message": {"type": "string", "minLength": 1},
                "tactic": {"type": "string"},
                "correction_required": {"type": "boolean"}
              }
            }
          ]
        }
      },
      "notes": {"type": "object"}
    }
  }
}`
