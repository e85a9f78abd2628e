// Package render turns named response templates into user-facing text.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig/v3"
)

// ErrUnknownTemplate is returned when no template is registered under a name.
var ErrUnknownTemplate = errors.New("unknown template")

const noValue = "<no value>"

// Set is an immutable, compiled group of named templates.
type Set struct {
	root        *template.Template
	placeholder string

	// fields are the top-level keys the templates reference.
	fields []string
}

// Has reports whether a template is registered under name.
func (s *Set) Has(name string) bool {
	return s.root.Lookup(name) != nil
}

// Render executes the named template against data. Keys the templates
// reference but data lacks, or holds as nil, render as the placeholder,
// including when they are piped into a function.
func (s *Set) Render(name string, data map[string]any) (string, error) {
	tmpl := s.root.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	filled := make(map[string]any, len(data)+len(s.fields))
	for k, v := range data {
		filled[k] = v
	}
	for _, f := range s.fields {
		if filled[f] == nil {
			filled[f] = s.placeholder
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, filled); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", name, err)
	}
	return strings.TrimSpace(strings.ReplaceAll(buf.String(), noValue, s.placeholder)), nil
}

// Engine renders text/template templates with the sprig function set.
// The template set can be replaced while renders are in flight.
type Engine struct {
	placeholder string
	set         atomic.Pointer[Set]
}

// New creates an engine. Missing template variables render as placeholder.
func New(placeholder string) *Engine {
	e := &Engine{placeholder: placeholder}
	e.set.Store(&Set{root: template.New("").Funcs(sprig.TxtFuncMap()), placeholder: placeholder})
	return e
}

// Compile parses templates into a new set without installing it.
func (e *Engine) Compile(templates map[string]string) (*Set, error) {
	root := template.New("").Funcs(sprig.TxtFuncMap())
	for name, text := range templates {
		if _, err := root.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
		}
	}

	seen := make(map[string]bool)
	var fields []string
	for _, t := range root.Templates() {
		if t.Tree == nil {
			continue
		}
		walk(t.Tree.Root, func(name string) {
			if !seen[name] {
				seen[name] = true
				fields = append(fields, name)
			}
		})
	}

	return &Set{root: root, placeholder: e.placeholder, fields: fields}, nil
}

// SetTemplates parses templates and replaces the current set. On error the
// previous set is kept.
func (e *Engine) SetTemplates(templates map[string]string) error {
	set, err := e.Compile(templates)
	if err != nil {
		return err
	}
	e.set.Store(set)
	return nil
}

// Has reports whether a template is registered under name.
func (e *Engine) Has(name string) bool {
	return e.set.Load().Has(name)
}

// Render executes the named template of the current set against data.
func (e *Engine) Render(name string, data map[string]any) (string, error) {
	return e.set.Load().Render(name, data)
}

// walk calls fn with the first identifier of every field reference under n.
func walk(n parse.Node, fn func(string)) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, fn)
		}
	case *parse.ActionNode:
		walk(n.Pipe, fn)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.TemplateNode:
		walk(n.Pipe, fn)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walk(c, fn)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walk(a, fn)
		}
	case *parse.ChainNode:
		walk(n.Node, fn)
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			fn(n.Ident[0])
		}
	}
}

func walkBranch(b *parse.BranchNode, fn func(string)) {
	walk(b.Pipe, fn)
	walk(b.List, fn)
	walk(b.ElseList, fn)
}
