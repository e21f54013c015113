// Package patterns resolves the dependencies of feature sets from rules kept
// in a YAML file instead of the edges stored on each branch.
package patterns

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tessera-labs/tessera/internal/domain"
)

const SpecSchemaV1 = "tessera.dependency-patterns.v1"

// BranchNamePlaceholder in a dependency branch is replaced by the name of the
// feature set being resolved.
const BranchNamePlaceholder = "${branch}"

type Spec struct {
	Schema string `yaml:"schema"`
	Rules  []Rule `yaml:"rules"`
}

// Rule applies to feature sets of Component whose name matches Branch.
type Rule struct {
	ID           string       `yaml:"id"`
	Description  string       `yaml:"description,omitempty"`
	Component    string       `yaml:"component"`
	Branch       string       `yaml:"branch,omitempty"`
	Dependencies []Dependency `yaml:"dependencies"`
}

type Dependency struct {
	Component string `yaml:"component"`
	Branch    string `yaml:"branch,omitempty"`
	Status    string `yaml:"status,omitempty"`
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func LoadSpec(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read dependency patterns: %w", err)
	}
	return ParseSpec(raw)
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("spec.rules must be non-empty")
	}
	seen := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return fmt.Errorf("spec.rules[%d].id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("spec.rules[%d].id must be unique (duplicate %q)", i, id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(rule.Component) == "" {
			return fmt.Errorf("spec.rules[%d].component is required", i)
		}
		if pattern := strings.TrimSpace(rule.Branch); pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("spec.rules[%d].branch: %w", i, err)
			}
		}
		if len(rule.Dependencies) == 0 {
			return fmt.Errorf("spec.rules[%d].dependencies must be non-empty", i)
		}
		for j, dep := range rule.Dependencies {
			if strings.TrimSpace(dep.Component) == "" {
				return fmt.Errorf("spec.rules[%d].dependencies[%d].component is required", i, j)
			}
			if !domain.NormalizeDependencyStatus(dep.Status).Valid() {
				return fmt.Errorf("spec.rules[%d].dependencies[%d].status unsupported: %q", i, j, dep.Status)
			}
		}
	}
	return nil
}
