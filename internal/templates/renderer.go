// Package templates renders alert message bodies from inline text/template
// sources. Sprig's helper functions are available with the environment and
// filesystem helpers removed, since alert templates only see metric context.
package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// AlertContext carries the fields an alert message template may reference.
type AlertContext struct {
	Type      string
	Severity  string
	Value     float64
	Threshold float64
}

// Renderer compiles and executes inline alert message templates.
type Renderer struct {
	funcs template.FuncMap
}

// NewRenderer constructs a renderer with the restricted sprig function set.
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// Template represents a compiled message template, safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// CompileInline parses an inline template source. Empty or whitespace-only
// sources return nil without error to simplify optional configuration fields.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Render executes the template against the alert context.
func (t *Template) Render(ctx AlertContext) (string, error) {
	if t == nil || t.tmpl == nil {
		return "", fmt.Errorf("templates: template not compiled")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("templates: render %q: %w", t.name, err)
	}
	return buf.String(), nil
}
