package risk

import "github.com/awe-dev/agentcheck/internal/core"

// PolicyTemplate bundles Task policy-field defaults under a named preset.
// Presets pre-seed a task before explicit flags override them.
type PolicyTemplate struct {
	Name                 string
	SandboxMode          bool
	SelfLoopMode         int
	AutoMerge            bool
	MaxRounds            int
	RepairMode           core.RepairMode
	SandboxCleanupOnPass bool
}

// PolicyCatalog is the named template registry.
var PolicyCatalog = map[string]PolicyTemplate{
	"balanced-default": {
		Name:                 "balanced-default",
		SandboxMode:          true,
		SelfLoopMode:         0,
		AutoMerge:            false,
		MaxRounds:            3,
		RepairMode:           core.RepairModeBalanced,
		SandboxCleanupOnPass: false,
	},
	"safe-review": {
		Name:                 "safe-review",
		SandboxMode:          true,
		SelfLoopMode:         0,
		AutoMerge:            false,
		MaxRounds:            1,
		RepairMode:           core.RepairModeMinimal,
		SandboxCleanupOnPass: false,
	},
	"rapid-fix": {
		Name:                 "rapid-fix",
		SandboxMode:          false,
		SelfLoopMode:         1,
		AutoMerge:            true,
		MaxRounds:            1,
		RepairMode:           core.RepairModeMinimal,
		SandboxCleanupOnPass: true,
	},
	"deep-evolve": {
		Name:                 "deep-evolve",
		SandboxMode:          true,
		SelfLoopMode:         1,
		AutoMerge:            true,
		MaxRounds:            10,
		RepairMode:           core.RepairModeStructural,
		SandboxCleanupOnPass: false,
	},
}

// LookupTemplate resolves a named preset, reporting ok=false for an unknown
// name.
func LookupTemplate(name string) (PolicyTemplate, bool) {
	t, ok := PolicyCatalog[name]
	return t, ok
}

// ApplyTo seeds a task's policy fields from the template. Call before
// applying any explicit flags so the flags can still override the preset.
func (t PolicyTemplate) ApplyTo(task *core.Task) {
	task.SandboxMode = t.SandboxMode
	task.SelfLoopMode = t.SelfLoopMode
	task.AutoMerge = t.AutoMerge
	task.MaxRounds = t.MaxRounds
	task.RepairMode = t.RepairMode
	task.SandboxCleanupOnPass = t.SandboxCleanupOnPass
}
