package team

import (
	"strings"
)

// Forest is a read-only snapshot of an organisation's teams indexed for
// traversal. Traversals track visited nodes and terminate even if the stored
// data contains a cycle.
type Forest struct {
	teams    map[string]*Team
	children map[string][]string
}

// NewForest indexes teams.
func NewForest(teams []*Team) *Forest {
	f := &Forest{
		teams:    make(map[string]*Team, len(teams)),
		children: make(map[string][]string),
	}
	for _, t := range teams {
		f.teams[t.ID] = t
		if t.ParentID != "" {
			f.children[t.ParentID] = append(f.children[t.ParentID], t.ID)
		}
	}
	return f
}

// Team returns a team by ID.
func (f *Forest) Team(id string) (*Team, bool) {
	t, ok := f.teams[id]
	return t, ok
}

// Children returns the direct children of id.
func (f *Forest) Children(id string) []string {
	return f.children[id]
}

// Descendants returns the IDs reachable downward from id, optionally including
// id itself. Unknown IDs yield an empty set, or {id} with includeSelf.
func (f *Forest) Descendants(id string, includeSelf bool) IDSet {
	visited := NewIDSet(id)
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range f.children[current] {
			if visited.Contains(child) {
				continue
			}
			visited.Add(child)
			queue = append(queue, child)
		}
	}
	if !includeSelf {
		delete(visited, id)
	}
	return visited
}

// AncestorPath returns the teams from the root down to id inclusive. A cycle in
// the stored data stops the walk where it would repeat.
func (f *Forest) AncestorPath(id string) []*Team {
	var path []*Team
	seen := make(IDSet)
	for current := id; current != "" && !seen.Contains(current); {
		t, ok := f.teams[current]
		if !ok {
			break
		}
		seen.Add(current)
		path = append(path, t)
		current = t.ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Label renders the ancestor path as "Region > Area > Team".
func (f *Forest) Label(id string) string {
	path := f.AncestorPath(id)
	names := make([]string, len(path))
	for i, t := range path {
		names[i] = t.Name
	}
	return strings.Join(names, " > ")
}

// wouldCycle reports whether making parentID the parent of id creates a cycle,
// walking the proposed parent's ancestor chain in parentOf.
func wouldCycle(parentOf map[string]string, id, parentID string) bool {
	seen := make(IDSet)
	for current := parentID; current != ""; current = parentOf[current] {
		if current == id || seen.Contains(current) {
			return true
		}
		seen.Add(current)
	}
	return false
}
