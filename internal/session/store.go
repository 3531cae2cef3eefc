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

// Package session provides storage for iterative design sessions: session
// metadata, immutable numbered design states, per-version metadata records,
// and bounded edit-context histories.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors returned by session store implementations and their callers.
var (
	// ErrSessionNotFound is returned when a session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInactive is returned when an edit targets a completed or
	// expired session.
	ErrSessionInactive = errors.New("session is not active")
	// ErrInvalidSessionID is returned when a session ID is invalid.
	ErrInvalidSessionID = errors.New("invalid session ID")
	// ErrStateNotFound is returned when a requested design state does not exist.
	ErrStateNotFound = errors.New("design state not found")
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	// StatusActive indicates the session accepts edits.
	StatusActive SessionStatus = "active"
	// StatusCompleted indicates the session was ended by the client.
	StatusCompleted SessionStatus = "completed"
	// StatusExpired indicates the session idled past its TTL.
	StatusExpired SessionStatus = "expired"
)

// EditType is the coarse five-value taxonomy exposed on the wire.
type EditType string

const (
	EditTypeModify EditType = "modify"
	EditTypeAdd    EditType = "add"
	EditTypeRemove EditType = "remove"
	EditTypeStyle  EditType = "style"
	EditTypeLayout EditType = "layout"
)

// Session holds the metadata record for one design session.
type Session struct {
	// SessionID is the opaque unique session identifier.
	SessionID string `json:"session_id"`
	// UserID identifies the owner; "anonymous" is allowed.
	UserID string `json:"user_id"`
	// InitialPrompt is the natural-language prompt the session started from.
	InitialPrompt string `json:"initial_prompt"`
	// CurrentVersion is the highest stored design state version (monotonic, >=1).
	CurrentVersion int `json:"current_version"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// LastActivity is bumped on every read and write.
	LastActivity time.Time `json:"last_activity"`
	// Status is the lifecycle state of the session.
	Status SessionStatus `json:"status"`
	// TotalEdits counts successfully applied edits.
	TotalEdits int `json:"total_edits"`
}

// ChangeSet describes one edit for version and context bookkeeping.
type ChangeSet struct {
	// Prompt is the user's edit prompt.
	Prompt string `json:"prompt"`
	// EditType classifies the edit; empty defaults to modify.
	EditType EditType `json:"edit_type,omitempty"`
	// TargetElements lists the resolved element ids, may be empty.
	TargetElements []string `json:"target_elements,omitempty"`
	// ProcessingTimeMS is the wall-clock time spent applying the edit.
	ProcessingTimeMS int64 `json:"processing_time_ms,omitempty"`
	// Summary is a human-readable change description.
	Summary string `json:"summary,omitempty"`
}

// StateMetadata is the per-version metadata attached to a DesignState.
// Known keys are typed fields; Extra carries forward-compat keys so the
// serialized form remains a single flat JSON object.
type StateMetadata struct {
	// ContentHash is the SHA-256 of the canonical JSON of the wireframe.
	ContentHash string
	// EditType classifies the edit that produced this version.
	EditType EditType
	// TargetElements lists the elements the edit targeted.
	TargetElements []string
	// ProcessingTimeMS is the edit's processing time.
	ProcessingTimeMS int64
	// Changes is the full change description for this version.
	Changes *ChangeSet
	// Compressed marks a version rewritten to a structural skeleton.
	Compressed bool
	// OriginalSize is the canonical-JSON byte length before compaction.
	OriginalSize int
	// Extra holds any additional metadata keys.
	Extra map[string]any
}

// reserved metadata keys, kept out of Extra during round-trips.
var metadataKeys = map[string]bool{
	"content_hash":       true,
	"edit_type":          true,
	"target_elements":    true,
	"processing_time_ms": true,
	"changes":            true,
	"compressed":         true,
	"original_size":      true,
}

// ToMap flattens the metadata into a single map, merging Extra with the
// typed fields. Typed fields win on key collisions.
func (m *StateMetadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Extra {
		if !metadataKeys[k] {
			out[k] = v
		}
	}
	out["content_hash"] = m.ContentHash
	out["edit_type"] = string(m.EditType)
	targets := m.TargetElements
	if targets == nil {
		targets = []string{}
	}
	out["target_elements"] = targets
	out["processing_time_ms"] = m.ProcessingTimeMS
	if m.Changes != nil {
		out["changes"] = m.Changes
	}
	if m.Compressed {
		out["compressed"] = true
	}
	if m.OriginalSize > 0 {
		out["original_size"] = m.OriginalSize
	}
	return out
}

// MarshalJSON serializes the metadata as a single flat JSON object.
func (m StateMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON restores typed fields from the flat object, leaving
// unrecognized keys in Extra.
func (m *StateMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["content_hash"].(string); ok {
		m.ContentHash = v
	}
	if v, ok := raw["edit_type"].(string); ok {
		m.EditType = EditType(v)
	}
	if v, ok := raw["target_elements"].([]any); ok {
		m.TargetElements = make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				m.TargetElements = append(m.TargetElements, s)
			}
		}
	}
	if v, ok := raw["processing_time_ms"].(float64); ok {
		m.ProcessingTimeMS = int64(v)
	}
	if v, ok := raw["changes"].(map[string]any); ok {
		m.Changes = changeSetFromMap(v)
	}
	if v, ok := raw["compressed"].(bool); ok {
		m.Compressed = v
	}
	if v, ok := raw["original_size"].(float64); ok {
		m.OriginalSize = int(v)
	}
	for k := range metadataKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

func changeSetFromMap(raw map[string]any) *ChangeSet {
	cs := &ChangeSet{}
	if v, ok := raw["prompt"].(string); ok {
		cs.Prompt = v
	}
	if v, ok := raw["edit_type"].(string); ok {
		cs.EditType = EditType(v)
	}
	if v, ok := raw["target_elements"].([]any); ok {
		for _, t := range v {
			if s, ok := t.(string); ok {
				cs.TargetElements = append(cs.TargetElements, s)
			}
		}
	}
	if v, ok := raw["processing_time_ms"].(float64); ok {
		cs.ProcessingTimeMS = int64(v)
	}
	if v, ok := raw["summary"].(string); ok {
		cs.Summary = v
	}
	return cs
}

// DesignState is one immutable numbered version of the wireframe document.
type DesignState struct {
	// Version is the per-session monotonic version number (>=1).
	Version int `json:"version"`
	// Wireframe is the opaque JSON document.
	Wireframe map[string]any `json:"wireframe_json"`
	// Metadata carries the per-version metadata, including the content hash.
	Metadata StateMetadata `json:"metadata"`
	// CreatedAt is when the version was stored.
	CreatedAt time.Time `json:"created_at"`
}

// VersionMetadata is the fast-access projection of a version for history
// listings, stored alongside the full state.
type VersionMetadata struct {
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	ChangesSummary   string    `json:"changes_summary"`
	EditType         EditType  `json:"edit_type"`
	TargetElements   []string  `json:"target_elements"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	ContentHash      string    `json:"content_hash"`
	Compressed       bool      `json:"compressed"`
}

// EditContext records one edit's prompt, classification, resolved targets,
// and timing. Entries resolve pronouns in later edits.
type EditContext struct {
	Prompt           string    `json:"prompt"`
	EditType         EditType  `json:"edit_type"`
	TargetElements   []string  `json:"target_elements"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

// SessionMetrics summarizes a session's edit activity.
type SessionMetrics struct {
	TotalEdits              int              `json:"total_edits"`
	SessionDurationMinutes  int              `json:"session_duration_minutes"`
	EditTypesDistribution   map[EditType]int `json:"edit_types_distribution"`
	AverageProcessingTimeMS float64          `json:"average_processing_time_ms"`
}

// Store defines the typed key-value operations the service layers build on.
// Implementations carry no business logic. Every method may fail with a
// storage error; callers treat any error uniformly as a storage fault.
type Store interface {
	// CreateSession writes the session metadata hash and registers the
	// session in the owner's session set, with TTLs on both.
	CreateSession(ctx context.Context, s *Session) error

	// GetSessionMetadata returns the session record, or ErrSessionNotFound.
	GetSessionMetadata(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSessionActivity overwrites last_activity with the current time.
	UpdateSessionActivity(ctx context.Context, sessionID string) error

	// SetSessionStatus overwrites the session status field.
	SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error

	// StoreDesignState writes a versioned state and advances current_version.
	StoreDesignState(ctx context.Context, sessionID string, version int, state *DesignState) error

	// SetCurrentVersion overwrites the session's current_version pointer.
	// Compaction uses this to undo StoreDesignState's pointer side effect
	// when rewriting old versions in place.
	SetCurrentVersion(ctx context.Context, sessionID string, version int) error

	// GetDesignState reads one version; version <= 0 reads the current one.
	// Returns ErrStateNotFound when the version does not exist.
	GetDesignState(ctx context.Context, sessionID string, version int) (*DesignState, error)

	// GetAllVersions returns all stored version numbers, sorted ascending.
	GetAllVersions(ctx context.Context, sessionID string) ([]int, error)

	// StoreVersionMetadata writes the fast-access version projection.
	StoreVersionMetadata(ctx context.Context, sessionID string, vm *VersionMetadata) error

	// GetVersionMetadata reads the version projection, or ErrStateNotFound.
	GetVersionMetadata(ctx context.Context, sessionID string, version int) (*VersionMetadata, error)

	// MarkVersionCompressed flips the compressed flag on the projection.
	MarkVersionCompressed(ctx context.Context, sessionID string, version int) error

	// AddContextEntry prepends an entry to the context list, trims the list
	// to the configured limit, and refreshes its TTL.
	AddContextEntry(ctx context.Context, sessionID string, ec *EditContext) error

	// GetContextHistory returns up to limit entries, newest first.
	GetContextHistory(ctx context.Context, sessionID string, limit int) ([]EditContext, error)

	// IncrementEditCount atomically increments total_edits.
	IncrementEditCount(ctx context.Context, sessionID string) error

	// RefreshTTL re-arms expiration on the session's metadata and context keys.
	RefreshTTL(ctx context.Context, sessionID string) error

	// CleanupSession deletes every key belonging to the session.
	CleanupSession(ctx context.Context, sessionID string) error

	// GetUserSessions returns the session ids registered for a user.
	GetUserSessions(ctx context.Context, userID string) ([]string, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
