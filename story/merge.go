package story

import (
	"encoding/json"
	"strings"
)

// MergeNewAssets returns a new snapshot: a deep copy of prev with assets merged in.
//
// An incoming entity whose ID already exists in the matching list overwrites only the
// fields it carries; everything else is preserved. Unknown IDs are appended in order.
// Entities without an ID cannot be keyed and are dropped. prev is never modified.
func MergeNewAssets(prev WorldSnapshot, assets *NewAssets) WorldSnapshot {
	next := prev.Clone()
	if assets.Empty() {
		return next
	}
	next.KeyCharacters = mergeList(next.KeyCharacters, assets.KeyCharacters)
	next.KeyItems = mergeList(next.KeyItems, assets.KeyItems)
	next.KeyLocations = mergeList(next.KeyLocations, assets.KeyLocations)
	next.KeySkills = mergeList(next.KeySkills, assets.KeySkills)
	return next
}

func mergeList(target, incoming []Entity) []Entity {
	for _, in := range incoming {
		id := strings.TrimSpace(in.ID)
		if id == "" {
			continue
		}
		if i := indexOf(target, id); i >= 0 {
			target[i] = target[i].mergedWith(in)
			continue
		}
		added := in.Clone()
		added.ID = id
		target = append(target, added)
	}
	return target
}

// mergedWith overwrites the fields in carries. Empty strings count as absent
// because the model emits "" for fields it has nothing to say about.
func (e Entity) mergedWith(in Entity) Entity {
	out := e.Clone()
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.Description != "" {
		out.Description = in.Description
	}
	if in.VisualKeywords != "" {
		out.VisualKeywords = in.VisualKeywords
	}
	if in.Size != "" {
		out.Size = in.Size
	}
	for key, value := range in.Clone().Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(in.Extra))
		}
		out.Extra[key] = value
	}
	return out
}
