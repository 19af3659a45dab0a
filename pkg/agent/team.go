package agent

import (
	"fmt"
	"log/slog"

	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/memory"
	"github.com/climatepath/pendo/pkg/prompts"
	"github.com/climatepath/pendo/pkg/reflection"
	"github.com/climatepath/pendo/pkg/registry"
)

// UsageRecorder receives token counts from the runtime's LLM calls.
type UsageRecorder interface {
	AddTokens(provider, kind string, n int)
}

// Deps carries the shared collaborators each specialist runtime needs.
// Usage is optional; when nil, token accounting is skipped.
type Deps struct {
	Provider llms.Provider
	Prompts  *prompts.Registry
	Memory   *memory.Manager
	Usage    UsageRecorder
	Logger   *slog.Logger
}

// BuildTeam constructs all eight agents over the shared runtime and returns
// the team registry plus the supervisor.
func BuildTeam(deps Deps) (*Team, *Supervisor, error) {
	team := registry.New[Agent]()

	for _, id := range append([]SpecialistID{Pendo}, Specialists...) {
		rt, err := buildRuntime(id, deps)
		if err != nil {
			return nil, nil, err
		}
		var member Agent = rt
		if err := team.Register(string(id), member); err != nil {
			return nil, nil, err
		}
	}

	pendoAgent, _ := team.Get(string(Pendo))
	supervisor := NewSupervisor(pendoAgent.(*Runtime), team)
	return team, supervisor, nil
}

func buildRuntime(id SpecialistID, deps Deps) (*Runtime, error) {
	profile, ok := ProfileFor(id)
	if !ok {
		return nil, fmt.Errorf("no profile for agent %q", id)
	}

	var store *memory.Store
	if deps.Memory != nil {
		built, err := deps.Memory.ForAgent(string(id))
		if err != nil {
			return nil, err
		}
		store = built
	}

	engine := reflection.NewEngine(deps.Provider, deps.Logger)
	rt := NewRuntime(profile, deps.Provider, deps.Prompts, store, engine, deps.Logger)
	rt.usage = deps.Usage
	return rt, nil
}
