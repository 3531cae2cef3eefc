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
	"sort"

	"github.com/promptwire/promptwire/internal/session"
)

// CompressOldVersions rewrites versions older than the keepRecent newest
// ones to a structural skeleton, marking them compressed. Version numbers
// and creation timestamps are preserved, and the pass is idempotent:
// already-compressed versions are skipped. Returns the number of versions
// compressed in this pass.
func (m *Manager) CompressOldVersions(ctx context.Context, sessionID string, keepRecent int) (int, error) {
	if keepRecent <= 0 {
		keepRecent = m.keepRecent
	}

	versions, err := m.store.GetAllVersions(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) <= keepRecent {
		return 0, nil
	}

	// Newest first; everything past keepRecent is a compaction candidate.
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))
	newest := versions[0]
	candidates := versions[keepRecent:]

	compressed := 0
	for _, v := range candidates {
		if vm, err := m.store.GetVersionMetadata(ctx, sessionID, v); err == nil && vm.Compressed {
			continue
		}

		state, err := m.store.GetDesignState(ctx, sessionID, v)
		if err != nil {
			continue
		}
		if state.Metadata.Compressed {
			continue
		}

		skeleton, originalSize, err := compressState(state)
		if err != nil {
			m.log.Error(err, "failed to build compressed state",
				"sessionID", sessionID, "version", v)
			continue
		}

		meta := state.Metadata
		meta.Compressed = true
		meta.OriginalSize = originalSize

		compressedState := &session.DesignState{
			Version:   state.Version,
			Wireframe: skeleton,
			Metadata:  meta,
			CreatedAt: state.CreatedAt,
		}
		if err := m.store.StoreDesignState(ctx, sessionID, v, compressedState); err != nil {
			m.log.Error(err, "failed to store compressed state",
				"sessionID", sessionID, "version", v)
			continue
		}
		// StoreDesignState drags current_version back to v; restore the
		// pointer before touching the next candidate so concurrent
		// readers resolving the current version see the newest one.
		if err := m.store.SetCurrentVersion(ctx, sessionID, newest); err != nil {
			m.log.Error(err, "failed to restore current version after compaction",
				"sessionID", sessionID, "version", newest)
		}
		if err := m.store.MarkVersionCompressed(ctx, sessionID, v); err != nil {
			m.log.Error(err, "failed to mark version compressed",
				"sessionID", sessionID, "version", v)
		}
		compressed++
		m.log.V(1).Info("compressed version", "sessionID", sessionID, "version", v)
	}

	return compressed, nil
}

// compressState builds the structural skeleton for a version: element
// id/type/position/size only, plus the layout, with all styling dropped.
// Returns the skeleton and the canonical byte length of the original.
func compressState(state *session.DesignState) (map[string]any, int, error) {
	original, err := CanonicalJSON(state.Wireframe)
	if err != nil {
		return nil, 0, err
	}

	elements := []any{}
	if raw, ok := state.Wireframe["elements"].([]any); ok {
		for _, item := range raw {
			elem, ok := item.(map[string]any)
			if !ok {
				continue
			}
			elements = append(elements, map[string]any{
				"id":       elem["id"],
				"type":     elem["type"],
				"position": elem["position"],
				"size":     elem["size"],
			})
		}
	}

	skeleton := map[string]any{
		"elements":   elements,
		"layout":     state.Wireframe["layout"],
		"compressed": true,
	}
	return skeleton, len(original), nil
}
