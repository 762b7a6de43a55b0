package tools

import (
	"log/slog"

	"github.com/solsticehq/solstice/internal/memory"
	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/internal/skills"
)

// Deps carries the shared services the builtin tool groups need.
type Deps struct {
	Sandbox   *security.Sandbox
	Gate      *security.CommandGate
	Validator *security.URLValidator
	Memory    *memory.Store
	Skills    *skills.Loader
	Scheduler JobScheduler
	Catalog   *Catalog
}

// Flags selects which gated tool groups load. File operations are always
// registered.
type Flags struct {
	Terminal bool
	Web      bool
	Memory   bool
	Skills   bool
	Cron     bool
	Registry bool
}

// LoadBuiltins registers the builtin tools into a registry according to
// the flags, and returns the terminal group (nil when disabled) so the
// caller can stop its background sessions on shutdown.
func LoadBuiltins(r *Registry, deps Deps, flags Flags) *Terminal {
	log := slog.Default().With("component", "tools")

	files := NewFileTools(deps.Sandbox)
	files.Register(r)
	files.RegisterPatch(r)

	var term *Terminal
	if flags.Terminal {
		term = NewTerminal(deps.Gate, deps.Sandbox)
		term.Register(r)
	}
	if flags.Web {
		NewWeb(deps.Validator).Register(r)
	}
	if flags.Memory && deps.Memory != nil {
		RegisterMemory(r, deps.Memory)
	}
	if flags.Skills && deps.Skills != nil {
		RegisterSkills(r, deps.Skills)
	}
	if flags.Cron && deps.Scheduler != nil {
		RegisterCron(r, deps.Scheduler)
	}
	if flags.Registry && deps.Catalog != nil {
		deps.Catalog.Register(r)
	}

	log.Info("builtin tools loaded", "count", r.Len())
	return term
}
