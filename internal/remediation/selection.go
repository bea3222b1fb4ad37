package remediation

import "sort"

// Selection tracks which gap units an operator has picked for
// remediation. It is not safe for concurrent use.
type Selection struct {
	selected map[string]bool
}

// NewSelection starts with nothing selected.
func NewSelection() *Selection {
	return &Selection{selected: make(map[string]bool)}
}

// Toggle flips one unit in or out of the selection.
func (s *Selection) Toggle(unitID string) {
	if unitID == "" {
		return
	}
	if s.selected[unitID] {
		delete(s.selected, unitID)
		return
	}
	s.selected[unitID] = true
}

// ToggleAll selects the whole group, or clears it when the selection
// already equals the group exactly. A partial or mixed selection always
// resolves to the full group.
func (s *Selection) ToggleAll(unitIDs []string) {
	group := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		if id != "" {
			group[id] = true
		}
	}
	if len(group) == 0 {
		return
	}
	if len(s.selected) == len(group) {
		equal := true
		for id := range group {
			if !s.selected[id] {
				equal = false
				break
			}
		}
		if equal {
			s.selected = make(map[string]bool)
			return
		}
	}
	s.selected = group
}

// Contains reports whether a unit is selected.
func (s *Selection) Contains(unitID string) bool {
	return s.selected[unitID]
}

// Count returns the number of selected units.
func (s *Selection) Count() int {
	return len(s.selected)
}

// Selected returns the selected unit ids in stable order.
func (s *Selection) Selected() []string {
	out := make([]string, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
