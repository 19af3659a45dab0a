// Package prompts provides the read-only prompt registry: per-agent system
// prompts, intent-keyed response templates, and tuning config, loaded once at
// startup from embedded packs plus an optional override directory.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed packs/*.yaml
var embeddedPacks embed.FS

// ErrUnknownPrompt is returned for agent ids with no loaded pack.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Prompt is one agent's prompt pack.
type Prompt struct {
	AgentID      string            `yaml:"agent_id"`
	SystemPrompt string            `yaml:"system_prompt"`
	Templates    map[string]string `yaml:"templates"`
	Config       map[string]any    `yaml:"config"`
}

// Registry is an immutable-after-load prompt lookup.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
	loaded  bool
}

// NewRegistry creates an empty registry. Call Load before Get.
func NewRegistry() *Registry {
	return &Registry{prompts: make(map[string]*Prompt)}
}

// Load reads the embedded packs and, when overrideDir is non-empty, overlays
// packs found there. Load may be called once; subsequent calls fail.
func (r *Registry) Load(overrideDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return fmt.Errorf("prompts: registry already loaded")
	}

	if err := r.loadFS(embeddedPacks, "packs"); err != nil {
		return err
	}
	if overrideDir != "" {
		if err := r.loadFS(os.DirFS(overrideDir), "."); err != nil {
			return fmt.Errorf("prompts: override dir %s: %w", overrideDir, err)
		}
	}

	if len(r.prompts) == 0 {
		return fmt.Errorf("prompts: no packs loaded")
	}
	r.loaded = true
	return nil
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.Join(root, name))
		if err != nil {
			return fmt.Errorf("read pack %s: %w", name, err)
		}

		var p Prompt
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parse pack %s: %w", name, err)
		}
		if p.AgentID == "" {
			p.AgentID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if p.SystemPrompt == "" {
			return fmt.Errorf("pack %s: system_prompt is required", name)
		}
		if p.Templates == nil {
			p.Templates = make(map[string]string)
		}
		r.prompts[p.AgentID] = &p
	}
	return nil
}

// Get returns the prompt pack for agentID. The returned value is a copy;
// callers cannot mutate the registry through it.
func (r *Registry) Get(agentID string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, agentID)
	}

	out := &Prompt{
		AgentID:      p.AgentID,
		SystemPrompt: p.SystemPrompt,
		Templates:    make(map[string]string, len(p.Templates)),
		Config:       make(map[string]any, len(p.Config)),
	}
	for k, v := range p.Templates {
		out.Templates[k] = v
	}
	for k, v := range p.Config {
		out.Config[k] = v
	}
	return out, nil
}

// Template returns the template for intent, falling back to the agent's
// "default" template when the intent has no dedicated entry.
func (r *Registry) Template(agentID, intent string) (string, error) {
	p, err := r.Get(agentID)
	if err != nil {
		return "", err
	}
	if t, ok := p.Templates[intent]; ok {
		return t, nil
	}
	if t, ok := p.Templates["default"]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: agent %s has no template for intent %s", ErrUnknownPrompt, agentID, intent)
}

// AgentIDs returns the loaded agent ids.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.prompts))
	for id := range r.prompts {
		ids = append(ids, id)
	}
	return ids
}
