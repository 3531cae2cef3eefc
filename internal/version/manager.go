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

// Package version builds immutable numbered design versions on top of the
// state store: content-hash integrity, version diffs, and compaction of
// old versions.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/promptwire/promptwire/internal/session"
)

// Compaction defaults.
const (
	// DefaultMaxVersions triggers compaction when exceeded.
	DefaultMaxVersions = 50
	// DefaultKeepRecent is the number of versions kept uncompressed.
	DefaultKeepRecent = 10
)

// Manager enforces version monotonicity and content integrity, computes
// diffs, and compacts old versions. Safe for concurrent use across sessions.
type Manager struct {
	store       session.Store
	log         logr.Logger
	maxVersions int
	keepRecent  int
}

// Config holds compaction thresholds for the Manager.
type Config struct {
	// MaxVersions triggers compaction when the version count exceeds it.
	MaxVersions int
	// KeepRecent is the number of recent versions left uncompressed.
	KeepRecent int
}

// NewManager creates a version manager over the given store.
func NewManager(store session.Store, cfg Config, log logr.Logger) *Manager {
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = DefaultMaxVersions
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	return &Manager{
		store:       store,
		log:         log.WithName("version-manager"),
		maxVersions: cfg.MaxVersions,
		keepRecent:  cfg.KeepRecent,
	}
}

// CanonicalJSON serializes a wireframe document with keys sorted
// lexicographically at every depth and no insignificant whitespace.
// encoding/json sorts map keys, so marshaling the map tree is canonical
// by construction.
func CanonicalJSON(wireframe map[string]any) ([]byte, error) {
	return json.Marshal(wireframe)
}

// ContentHash returns the lowercase-hex SHA-256 of the canonical JSON
// serialization of the wireframe.
func ContentHash(wireframe map[string]any) (string, error) {
	data, err := CanonicalJSON(wireframe)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize wireframe: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CreateVersion stores a new immutable version atop the session's current
// one and returns the new version number. The new version's metadata merges
// extra with the change description and the computed content hash.
func (m *Manager) CreateVersion(ctx context.Context, sessionID string, wireframe map[string]any, changes *session.ChangeSet, extra map[string]any) (int, error) {
	meta, err := m.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session for versioning: %w", err)
	}

	newVersion := meta.CurrentVersion + 1

	hash, err := ContentHash(wireframe)
	if err != nil {
		return 0, err
	}

	if changes == nil {
		changes = &session.ChangeSet{}
	}
	editType := changes.EditType
	if editType == "" {
		editType = session.EditTypeModify
	}

	now := time.Now().UTC()
	state := &session.DesignState{
		Version:   newVersion,
		Wireframe: wireframe,
		Metadata: session.StateMetadata{
			ContentHash:      hash,
			EditType:         editType,
			TargetElements:   changes.TargetElements,
			ProcessingTimeMS: changes.ProcessingTimeMS,
			Changes:          changes,
			Extra:            extra,
		},
		CreatedAt: now,
	}

	if err := m.store.StoreDesignState(ctx, sessionID, newVersion, state); err != nil {
		return 0, fmt.Errorf("failed to store version %d: %w", newVersion, err)
	}

	vm := &session.VersionMetadata{
		Version:          newVersion,
		CreatedAt:        now,
		ChangesSummary:   changes.Summary,
		EditType:         editType,
		TargetElements:   changes.TargetElements,
		ProcessingTimeMS: changes.ProcessingTimeMS,
		ContentHash:      hash,
		Compressed:       false,
	}
	if err := m.store.StoreVersionMetadata(ctx, sessionID, vm); err != nil {
		// The version itself is stored; the projection is advisory.
		m.log.Error(err, "failed to store version metadata",
			"sessionID", sessionID, "version", newVersion)
	}

	m.checkAndCompress(ctx, sessionID)

	m.log.V(1).Info("created version", "sessionID", sessionID, "version", newVersion)
	return newVersion, nil
}

// checkAndCompress compacts old versions once the count exceeds the
// configured maximum.
func (m *Manager) checkAndCompress(ctx context.Context, sessionID string) {
	versions, err := m.store.GetAllVersions(ctx, sessionID)
	if err != nil {
		m.log.Error(err, "failed to list versions for compaction check", "sessionID", sessionID)
		return
	}
	if len(versions) <= m.maxVersions {
		return
	}
	if _, err := m.CompressOldVersions(ctx, sessionID, m.keepRecent); err != nil {
		m.log.Error(err, "compaction failed", "sessionID", sessionID)
	}
}

// VerifyVersionIntegrity recomputes the canonical-JSON SHA-256 of a stored
// version and compares it to the stored content hash. Verification is
// suppressed for compacted versions (returns true): compaction rewrites the
// document in place without recomputing the hash, so the original hash can
// no longer match.
func (m *Manager) VerifyVersionIntegrity(ctx context.Context, sessionID string, v int) bool {
	state, err := m.store.GetDesignState(ctx, sessionID, v)
	if err != nil {
		m.log.Error(err, "failed to load version for integrity check",
			"sessionID", sessionID, "version", v)
		return false
	}

	if state.Metadata.Compressed {
		return true
	}

	stored := state.Metadata.ContentHash
	if stored == "" {
		m.log.Info("no content hash stored", "sessionID", sessionID, "version", v)
		return false
	}

	current, err := ContentHash(state.Wireframe)
	if err != nil {
		m.log.Error(err, "failed to recompute content hash",
			"sessionID", sessionID, "version", v)
		return false
	}

	if current != stored {
		m.log.Info("content hash mismatch",
			"sessionID", sessionID, "version", v, "stored", stored, "computed", current)
		return false
	}
	return true
}

// CalculateSessionMetrics aggregates edit-type distribution and processing
// times from the per-version metadata records.
func (m *Manager) CalculateSessionMetrics(ctx context.Context, sessionID string) (*session.SessionMetrics, error) {
	meta, err := m.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	versions, err := m.store.GetAllVersions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	totalEdits := len(versions) - 1 // v1 is the initial state, not an edit
	if totalEdits < 0 {
		totalEdits = 0
	}
	duration := meta.LastActivity.Sub(meta.CreatedAt).Minutes()

	distribution := make(map[session.EditType]int)
	var processingTimes []int64
	for _, v := range versions {
		if v == 1 {
			continue
		}
		vm, err := m.store.GetVersionMetadata(ctx, sessionID, v)
		if err != nil {
			continue
		}
		distribution[vm.EditType]++
		processingTimes = append(processingTimes, vm.ProcessingTimeMS)
	}

	var avg float64
	if len(processingTimes) > 0 {
		var sum int64
		for _, t := range processingTimes {
			sum += t
		}
		avg = float64(sum) / float64(len(processingTimes))
	}

	return &session.SessionMetrics{
		TotalEdits:              totalEdits,
		SessionDurationMinutes:  int(duration),
		EditTypesDistribution:   distribution,
		AverageProcessingTimeMS: avg,
	}, nil
}
