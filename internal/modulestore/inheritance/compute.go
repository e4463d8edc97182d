// Package inheritance computes the settings each block inherits from its ancestors
// and caches the result per course.
package inheritance

import (
	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
)

// Snapshot maps every block reachable from the course root to the values it inherits,
// once per branch. Values are kept in stored form. A container's entry also carries its
// own local inheritable values; a leaf's entry is its parent's.
type Snapshot struct {
	Generation uint64                    `json:"generation"`
	Draft      map[string]map[string]any `json:"draft"`
	Published  map[string]map[string]any `json:"published"`
}

func nodeKey(blockType, blockID string) string { return blockType + "/" + blockID }

// For returns a copy of what (blockType, blockID) inherits under branch. Blocks outside
// the tree get an empty map.
func (s *Snapshot) For(branch keys.Branch, blockType, blockID string) map[string]any {
	out := map[string]any{}
	if s == nil {
		return out
	}
	view := s.Published
	if branch == keys.BranchDraft {
		view = s.Draft
	}
	for k, v := range view[nodeKey(blockType, blockID)] {
		out[k] = blocktypes.Clone(v)
	}
	return out
}

// Compute builds both branch views from the container documents of one course (both
// revisions). rootID is the course root block id.
func Compute(reg *blocktypes.Registry, docs []*docstore.Document, rootID string) *Snapshot {
	drafts := map[string]*docstore.Document{}
	published := map[string]*docstore.Document{}
	for _, d := range docs {
		k := nodeKey(d.ID.Category, d.ID.Name)
		if d.ID.Revision == string(keys.BranchDraft) {
			drafts[k] = d
		} else {
			published[k] = d
		}
	}
	draftView := make(map[string]*docstore.Document, len(published)+len(drafts))
	for k, d := range published {
		draftView[k] = d
	}
	for k, d := range drafts {
		draftView[k] = d
	}
	return &Snapshot{
		Draft:     walk(reg, draftView, rootID),
		Published: walk(reg, published, rootID),
	}
}

func walk(reg *blocktypes.Registry, view map[string]*docstore.Document, rootID string) map[string]map[string]any {
	out := map[string]map[string]any{}
	root := nodeKey("course", rootID)
	if _, ok := view[root]; !ok {
		return out
	}
	out[root] = localInheritable(reg, view[root])
	visited := map[string]bool{}

	var visit func(k string, effective map[string]any)
	visit = func(k string, effective map[string]any) {
		if visited[k] {
			return
		}
		visited[k] = true
		d, ok := view[k]
		if !ok {
			return
		}
		mine := merge(effective, localInheritable(reg, d))
		passDown := mine
		if d.ID.Category == "library_content" {
			passDown = map[string]any{}
		}
		for _, ref := range d.Definition.Children {
			child, err := keys.ParseUsageKey(ref)
			if err != nil {
				continue
			}
			ck := nodeKey(child.BlockType, child.BlockID)
			entry := passDown
			if cd, ok := view[ck]; ok {
				entry = merge(passDown, localInheritable(reg, cd))
			}
			if _, seen := out[ck]; !seen {
				out[ck] = entry
			}
			visit(ck, passDown)
		}
	}
	visit(root, map[string]any{})
	return out
}

func localInheritable(reg *blocktypes.Registry, d *docstore.Document) map[string]any {
	out := map[string]any{}
	for name, v := range d.Metadata {
		if reg.IsInheritable(name) {
			out[name] = v
		}
	}
	return out
}

// merge returns parent overlaid with local; local wins.
func merge(parent, local map[string]any) map[string]any {
	if len(local) == 0 {
		return parent
	}
	out := make(map[string]any, len(parent)+len(local))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}
