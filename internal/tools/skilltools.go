package tools

import (
	"context"

	"github.com/solsticehq/solstice/internal/skills"
	"github.com/solsticehq/solstice/pkg/models"
)

// RegisterSkills wires skill_list and skill_get over a skill loader.
func RegisterSkills(r *Registry, loader *skills.Loader) {
	r.Register("skill_list", func(context.Context, map[string]any) (string, error) {
		return loader.DescribeAll(), nil
	}, models.ToolSchema{
		Name:        "skill_list",
		Description: "List all available skills with their descriptions.",
		Parameters:  objSchema(map[string]any{}),
	})

	r.Register("skill_get", func(_ context.Context, args map[string]any) (string, error) {
		name := stringArg(args, "name", "")
		if name == "" {
			return "Error: Empty skill name", nil
		}
		tier := intArg(args, "tier", 2)
		return loader.Describe(name, tier), nil
	}, models.ToolSchema{
		Name:        "skill_get",
		Description: "Load a skill's full instructions. Tier 2 is the working guide; tier 3 adds the reference appendix.",
		Parameters: objSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Name of the skill to load"},
			"tier": map[string]any{
				"type":        "integer",
				"enum":        []any{2, 3},
				"description": "Detail level: 2 = guide (default), 3 = guide plus reference",
			},
		}, "name"),
	})
}
