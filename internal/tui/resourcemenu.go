package tui

import (
	"fmt"
	"strings"

	"github.com/waabox/stockdeck/internal/resource"
)

// ResourceMenuModel is an immutable model for the resource picker.
type ResourceMenuModel struct {
	resources []resource.Resource
	cursor    int
}

// NewResourceMenuModel creates a menu over resources.
func NewResourceMenuModel(resources []resource.Resource) ResourceMenuModel {
	return ResourceMenuModel{resources: resources}
}

// MoveDown returns a new model with the cursor moved down by one.
func (m ResourceMenuModel) MoveDown() ResourceMenuModel {
	if m.cursor < len(m.resources)-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up by one.
func (m ResourceMenuModel) MoveUp() ResourceMenuModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// Selected returns the highlighted resource, or false when the menu is empty.
func (m ResourceMenuModel) Selected() (resource.Resource, bool) {
	if len(m.resources) == 0 {
		return resource.Resource{}, false
	}
	return m.resources[m.cursor], true
}

// View renders the menu grouped by section.
func (m ResourceMenuModel) View() string {
	if len(m.resources) == 0 {
		return "No resources configured."
	}
	var sb strings.Builder
	group := ""
	for i, r := range m.resources {
		if r.Group != group {
			group = r.Group
			sb.WriteString(fmt.Sprintf(" %s\n", strings.ToUpper(group)))
		}
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		sb.WriteString(fmt.Sprintf("%s%-20s %s\n", prefix, truncate(r.Title, 20), r.Path))
	}
	return sb.String()
}
