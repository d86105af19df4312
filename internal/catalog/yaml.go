package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/steward/pkg/api"
)

// yamlStep is the on-disk shape of one template step.
type yamlStep struct {
	EventType    string `yaml:"event_type"`
	Description  string `yaml:"description"`
	ApprovalGate bool   `yaml:"approval_gate"`
}

// LoadFile reads a YAML document mapping template names to ordered step
// lists and registers every template it contains:
//
//	release:
//	  - event_type: release_requested
//	    description: Cut the release branch
//	  - event_type: hitl_required
//	    description: Release manager sign-off
//	    approval_gate: true
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.LoadYAML(data)
}

// LoadYAML parses and registers templates from YAML bytes.
func (c *Catalog) LoadYAML(data []byte) error {
	var doc map[string][]yamlStep
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse template definitions: %w", err)
	}

	for name, steps := range doc {
		tpl := api.WorkflowTemplate{Name: name}
		for _, s := range steps {
			tpl.Steps = append(tpl.Steps, api.StepSpec{
				EventType:      s.EventType,
				Description:    s.Description,
				IsApprovalGate: s.ApprovalGate,
			})
		}
		if err := c.Register(tpl); err != nil {
			return fmt.Errorf("template %s: %w", name, err)
		}
	}
	return nil
}
