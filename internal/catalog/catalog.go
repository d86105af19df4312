// Package catalog holds named workflow templates.
package catalog

import (
	"fmt"
	"sync"

	"github.com/petrijr/steward/pkg/api"
)

// Catalog is a goroutine-safe registry of workflow templates.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]api.WorkflowTemplate
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{templates: make(map[string]api.WorkflowTemplate)}
}

// NewWithBuiltins creates a Catalog seeded with the built-in templates.
func NewWithBuiltins() *Catalog {
	c := New()
	for _, tpl := range Builtins() {
		// Builtins are well-formed; Register cannot fail here.
		_ = c.Register(tpl)
	}
	return c
}

// Register validates and stores a template, replacing any previous
// template of the same name.
func (c *Catalog) Register(tpl api.WorkflowTemplate) error {
	if tpl.Name == "" {
		return api.NewValidationError("template.name", "must not be empty")
	}
	if len(tpl.Steps) == 0 {
		return api.NewValidationError("template.steps", "must have at least one step")
	}
	for i, step := range tpl.Steps {
		if step.EventType == "" {
			return api.NewValidationError("template.steps", fmt.Sprintf("step %d has an empty event type", i))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[tpl.Name] = tpl
	return nil
}

// Get returns the template with the given name, or ErrTemplateNotFound.
func (c *Catalog) Get(name string) (api.WorkflowTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tpl, ok := c.templates[name]
	if !ok {
		return api.WorkflowTemplate{}, api.ErrTemplateNotFound
	}
	return tpl, nil
}

// List returns every registered template name.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	return names
}

// Builtins returns the templates shipped with the engine.
func Builtins() []api.WorkflowTemplate {
	return []api.WorkflowTemplate{
		{
			Name: "feature",
			Steps: []api.StepSpec{
				{EventType: "new_task", Description: "Create the task"},
				{EventType: "user_story_requested", Description: "Draft the user story"},
				{EventType: "test_generation_requested", Description: "Generate tests"},
			},
		},
		{
			Name: "automated_deployment",
			Steps: []api.StepSpec{
				{EventType: "deployment_requested", Description: "Prepare the deployment"},
				{EventType: "hitl_required", Description: "Human sign-off before rollout", IsApprovalGate: true},
				{EventType: "deployment_executed", Description: "Roll out"},
			},
		},
		{
			Name: "bug_triage",
			Steps: []api.StepSpec{
				{EventType: "bug_reported", Description: "Record the report"},
				{EventType: "reproduction_requested", Description: "Reproduce the bug"},
				{EventType: "fix_requested", Description: "Request a fix"},
			},
		},
	}
}
