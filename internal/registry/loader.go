package registry

import (
	"fmt"

	"github.com/capitalize-ai/oncall-dispatch/internal/render"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// TemplateCompiler parses the response templates of a workflow document.
type TemplateCompiler interface {
	Compile(templates map[string]string) (*render.Set, error)
}

// FileLoader loads a workflow document from disk into a registry and its
// response templates into a renderer.
type FileLoader struct {
	path      string
	registry  *Registry
	templates TemplateCompiler
}

// NewFileLoader creates a loader for the document at path.
func NewFileLoader(path string, reg *Registry, templates TemplateCompiler) *FileLoader {
	return &FileLoader{path: path, registry: reg, templates: templates}
}

// Path returns the document path.
func (l *FileLoader) Path() string {
	return l.path
}

// Load reads and validates the document, then swaps in its definitions and
// templates as one snapshot. Nothing changes when the document is invalid.
func (l *FileLoader) Load() (*Snapshot, error) {
	doc, err := LoadFile(l.path)
	if err != nil {
		return nil, err
	}
	set, err := l.templates.Compile(doc.ResponseTemplates)
	if err != nil {
		return nil, fmt.Errorf("invalid response templates in %s: %w", l.path, err)
	}
	if err := l.registry.ReloadWithTemplates(doc.Workflows, set); err != nil {
		return nil, err
	}

	snap := l.registry.Snapshot()
	metrics.SetRegistrySize(len(snap.Active()), snap.Len())
	return snap, nil
}
