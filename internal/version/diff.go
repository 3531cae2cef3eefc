/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package version

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// ElementChange records one modified element in a diff.
type ElementChange struct {
	ID   string         `json:"id"`
	From map[string]any `json:"from"`
	To   map[string]any `json:"to"`
}

// FieldChange records one changed metadata key in a diff.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff describes the differences between two versions of a session.
//
// Elements are keyed by their "id"; elements without an id are invisible to
// the diff. When two elements within one version share an id, the later one
// wins during keying (last-write-wins, undefined by contract).
type Diff struct {
	FromVersion     int                    `json:"from_version"`
	ToVersion       int                    `json:"to_version"`
	Added           []map[string]any       `json:"added_elements"`
	Removed         []map[string]any       `json:"removed_elements"`
	Modified        []ElementChange        `json:"modified_elements"`
	MetadataChanges map[string]FieldChange `json:"metadata_changes"`
	Summary         string                 `json:"summary"`
}

// GetVersionDiff computes the element-level differences between two stored
// versions. Returns nil (no error) when either version is missing.
func (m *Manager) GetVersionDiff(ctx context.Context, sessionID string, fromV, toV int) (*Diff, error) {
	fromState, err := m.store.GetDesignState(ctx, sessionID, fromV)
	if err != nil {
		m.log.V(1).Info("diff source version unavailable",
			"sessionID", sessionID, "version", fromV)
		return nil, nil
	}
	toState, err := m.store.GetDesignState(ctx, sessionID, toV)
	if err != nil {
		m.log.V(1).Info("diff target version unavailable",
			"sessionID", sessionID, "version", toV)
		return nil, nil
	}

	fromLookup, fromOrder := elementsByID(fromState.Wireframe)
	toLookup, toOrder := elementsByID(toState.Wireframe)

	var added, removed []map[string]any
	var modified []ElementChange

	for _, id := range toOrder {
		if _, ok := fromLookup[id]; !ok {
			added = append(added, toLookup[id])
		}
	}
	for _, id := range fromOrder {
		if _, ok := toLookup[id]; !ok {
			removed = append(removed, fromLookup[id])
		}
	}
	for _, id := range fromOrder {
		toElem, ok := toLookup[id]
		if !ok {
			continue
		}
		fromElem := fromLookup[id]
		if !reflect.DeepEqual(fromElem, toElem) {
			modified = append(modified, ElementChange{ID: id, From: fromElem, To: toElem})
		}
	}

	metadataChanges := diffMetadata(fromState.Metadata.ToMap(), toState.Metadata.ToMap())

	return &Diff{
		FromVersion:     fromV,
		ToVersion:       toV,
		Added:           added,
		Removed:         removed,
		Modified:        modified,
		MetadataChanges: metadataChanges,
		Summary:         diffSummary(len(added), len(removed), len(modified)),
	}, nil
}

// elementsByID indexes a wireframe's top-level "elements" sequence by id,
// preserving first-seen order. Elements without an id are skipped.
func elementsByID(wireframe map[string]any) (map[string]map[string]any, []string) {
	lookup := make(map[string]map[string]any)
	var order []string

	raw, ok := wireframe["elements"].([]any)
	if !ok {
		return lookup, order
	}
	for _, item := range raw {
		elem, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := elem["id"].(string)
		if !ok || id == "" {
			continue
		}
		if _, seen := lookup[id]; !seen {
			order = append(order, id)
		}
		lookup[id] = elem
	}
	return lookup, order
}

// diffMetadata emits a FieldChange for every key whose value differs
// between the two metadata maps.
func diffMetadata(from, to map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	keys := make(map[string]bool, len(from)+len(to))
	for k := range from {
		keys[k] = true
	}
	for k := range to {
		keys[k] = true
	}
	for k := range keys {
		fv, tv := from[k], to[k]
		if !reflect.DeepEqual(normalizeJSON(fv), normalizeJSON(tv)) {
			changes[k] = FieldChange{From: fv, To: tv}
		}
	}
	return changes
}

// normalizeJSON reduces typed values to their generic JSON form so that
// values read back from storage compare equal to freshly built ones.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeJSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeJSON(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}

// diffSummary renders the element counts as an English sentence.
func diffSummary(added, removed, modified int) string {
	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d elements added", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d elements removed", removed))
	}
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d elements modified", modified))
	}
	if len(parts) == 0 {
		return "No changes detected"
	}
	return strings.Join(parts, ", ")
}
