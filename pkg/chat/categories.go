package chat

import (
	"fmt"
	"strings"
)

// Category scopes the default system prompt to a domain.
type Category struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

const DefaultCategory = "infra"

var Categories = []Category{
	{ID: "infra", Label: "Infrastructure/Servers"},
	{ID: "network", Label: "Network"},
	{ID: "os", Label: "OS/Middleware"},
	{ID: "dev", Label: "Development/CI"},
	{ID: "cloud", Label: "Cloud/Azure"},
	{ID: "security", Label: "Security"},
	{ID: "troubleshooting", Label: "Troubleshooting"},
}

func LookupCategory(id string) (Category, bool) {
	for _, c := range Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func CategoryIDs() []string {
	ret := make([]string, 0, len(Categories))
	for _, c := range Categories {
		ret = append(ret, c.ID)
	}
	return ret
}

func DefaultPrompt(c Category) string {
	return fmt.Sprintf("You are a system engineer in the %s domain. Answer precisely and practically.", c.Label)
}

// SystemPrompt returns custom if it is set, the category's default prompt
// otherwise.
func SystemPrompt(c Category, custom string) string {
	if p := strings.TrimSpace(custom); p != "" {
		return p
	}
	return DefaultPrompt(c)
}
