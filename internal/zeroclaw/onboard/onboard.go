// Package onboard scaffolds a fresh workspace's personalization files from
// embedded templates.
//
// Each template set lives in a named subdirectory of the embedded
// filesystem and holds one Go text/template file per personalization
// document. The default set is named "default".
package onboard

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"text/template"
)

//go:embed templates
var embedded embed.FS

// Vars holds values interpolated into workspace personalization templates.
type Vars struct {
	AgentName      string
	DisplayName    string
	OperatorName   string
	PrimaryChannel string
	RuntimeKind    string
	ToolsDir       string
	Autonomy       string
}

// workspaceSubdirs are created empty alongside the rendered personalization
// files; they hold runtime-managed state, not template output.
var workspaceSubdirs = []string{"sessions", "memory", "state", "cron", "skills"}

// Registry resolves and renders workspace personalization templates from an
// embedded filesystem root.
type Registry struct {
	root fs.FS
}

// NewRegistry creates a Registry backed by the embedded template tree.
func NewRegistry() *Registry {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		// Only fails if the embed directive above is wrong, which would be
		// a compile-time-detectable authoring error, not a runtime one.
		panic(fmt.Sprintf("onboard: embedded template tree is malformed: %v", err))
	}
	return &Registry{root: sub}
}

// List returns the names of all available template sets.
func (r *Registry) List() ([]string, error) {
	entries, err := fs.ReadDir(r.root, ".")
	if err != nil {
		return nil, fmt.Errorf("onboard: listing template sets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Render renders every *.md template in the named set and returns the
// rendered contents keyed by file name.
func (r *Registry) Render(setName string, vars Vars) (map[string][]byte, error) {
	entries, err := fs.ReadDir(r.root, setName)
	if err != nil {
		return nil, fmt.Errorf("onboard: template set %q: %w", setName, err)
	}

	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		relPath := setName + "/" + e.Name()
		raw, err := fs.ReadFile(r.root, relPath)
		if err != nil {
			return nil, fmt.Errorf("onboard: template %q: %w", relPath, err)
		}

		tmpl, err := template.New(e.Name()).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("onboard: template %q: parse: %w", relPath, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return nil, fmt.Errorf("onboard: template %q: render: %w", relPath, err)
		}
		out[e.Name()] = buf.Bytes()
	}
	return out, nil
}

// Scaffold renders the named template set into workspaceRoot/workspace and
// creates the runtime-managed state subdirectories alongside it. It refuses
// to overwrite files that already exist, so re-running Scaffold against an
// already-onboarded workspace is a safe no-op for existing personalization
// files.
func Scaffold(workspaceRoot, setName string, vars Vars) error {
	reg := NewRegistry()
	rendered, err := reg.Render(setName, vars)
	if err != nil {
		return err
	}

	personalizationDir := filepath.Join(workspaceRoot, "workspace")
	if err := os.MkdirAll(personalizationDir, 0o755); err != nil {
		return fmt.Errorf("onboard: create workspace dir: %w", err)
	}

	names := make([]string, 0, len(rendered))
	for name := range rendered {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(personalizationDir, name)
		if _, err := os.Stat(path); err == nil {
			continue // already onboarded, don't clobber operator edits
		}
		if err := os.WriteFile(path, rendered[name], 0o644); err != nil {
			return fmt.Errorf("onboard: write %q: %w", name, err)
		}
	}

	for _, sub := range workspaceSubdirs {
		if err := os.MkdirAll(filepath.Join(workspaceRoot, sub), 0o755); err != nil {
			return fmt.Errorf("onboard: create %q: %w", sub, err)
		}
	}

	return nil
}
