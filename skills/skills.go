// Package skills implements the Skills Store: an on-disk directory of
// policy manifests (markdown with YAML frontmatter) declaring, per
// skill, the tool set a caller is allowed to invoke. This is a policy
// artifact only — it does not route between skills or affect the
// lifecycle engines.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
)

const frontmatterDelimiter = "---"

// Manifest is one skill's parsed policy document.
type Manifest struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed_tools"`
	Body         string   `yaml:"-"`
}

// Registry holds the loaded manifest set in memory, mirroring the
// teacher's OPAClient policy store (an in-memory map guarded by a
// RWMutex, loaded once at startup).
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[string]*Manifest)}
}

// Load reads every *.md file in dir, parses its frontmatter, and
// replaces the Registry's contents. A malformed manifest is skipped
// with an error collected rather than aborting the whole load, so one
// bad file doesn't take down every skill.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return memerr.Wrap(memerr.ErrConfiguration, "skills: read dir %s: %v", dir, err)
	}

	loaded := make(map[string]*Manifest, len(entries))
	var errs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		manifest, err := parseManifest(string(raw))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		loaded[manifest.Name] = manifest
	}

	r.mu.Lock()
	r.manifests = loaded
	r.mu.Unlock()

	if len(errs) > 0 {
		return memerr.Wrap(memerr.ErrDataValidation, "skills: %d manifest(s) failed to load: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// parseManifest splits raw on the "---" frontmatter delimiters, decodes
// the YAML header, and keeps everything after the closing delimiter as
// the manifest's free-form body.
func parseManifest(raw string) (*Manifest, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != frontmatterDelimiter {
		return nil, fmt.Errorf("skills: missing opening frontmatter delimiter")
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelimiter {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return nil, fmt.Errorf("skills: missing closing frontmatter delimiter")
	}

	header := strings.Join(lines[1:closeIdx], "\n")
	var manifest Manifest
	if err := yaml.Unmarshal([]byte(header), &manifest); err != nil {
		return nil, fmt.Errorf("skills: parse frontmatter: %w", err)
	}
	if manifest.Name == "" {
		return nil, fmt.Errorf("skills: manifest requires a name")
	}
	manifest.Body = strings.TrimSpace(strings.Join(lines[closeIdx+1:], "\n"))
	return &manifest, nil
}

// Get returns the named manifest, if loaded.
func (r *Registry) Get(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return m, ok
}

// GetAll returns every loaded manifest, in no particular order.
func (r *Registry) GetAll() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	return out
}

// FilterTools returns the subset of tools allowed under skillName. If
// the skill isn't loaded, it returns an empty set rather than the full
// input — an unknown skill grants nothing, never everything.
func (r *Registry) FilterTools(skillName string, tools []string) []string {
	manifest, ok := r.Get(skillName)
	if !ok {
		return nil
	}
	allowed := make(map[string]struct{}, len(manifest.AllowedTools))
	for _, t := range manifest.AllowedTools {
		allowed[t] = struct{}{}
	}
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, ok := allowed[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
