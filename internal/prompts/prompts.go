// Package prompts loads the per-stage prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

type catalogFile struct {
	System string `yaml:"system"`
	Stages map[string]struct {
		Prompt string `yaml:"prompt"`
	} `yaml:"stages"`
	Partials map[string]string `yaml:"partials"`
}

// Catalog renders system and stage prompts.
type Catalog struct {
	system *template.Template
	stages map[string]*template.Template
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(f.Stages) == 0 {
		return nil, fmt.Errorf("prompt catalog has no stages")
	}

	base := template.New("partials").Option("missingkey=error")
	for name, body := range f.Partials {
		if _, err := base.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse partial %q: %w", name, err)
		}
	}

	sys, err := base.Clone()
	if err != nil {
		return nil, err
	}
	if _, err := sys.New("system").Parse(f.System); err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	c := &Catalog{system: sys, stages: make(map[string]*template.Template, len(f.Stages))}
	for name, st := range f.Stages {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.New(name).Parse(st.Prompt); err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		c.stages[name] = t
	}
	return c, nil
}

// Stages lists the stage names in the catalog, sorted.
func (c *Catalog) Stages() []string {
	names := make([]string, 0, len(c.stages))
	for name := range c.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// System renders the shared system instruction.
func (c *Catalog) System(data any) (string, error) {
	return execute(c.system, "system", data)
}

// Render renders the prompt for stage.
func (c *Catalog) Render(stage string, data any) (string, error) {
	t, ok := c.stages[stage]
	if !ok {
		return "", fmt.Errorf("no prompt for stage %q", stage)
	}
	return execute(t, stage, data)
}

func execute(t *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
