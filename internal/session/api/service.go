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

// Package api provides the HTTP API layer for iterative design sessions:
// the orchestrating SessionService and its transport adapter.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/promptwire/promptwire/internal/engine"
	"github.com/promptwire/promptwire/internal/generator"
	"github.com/promptwire/promptwire/internal/session"
	"github.com/promptwire/promptwire/internal/version"
)

// Sentinel errors returned by the session service.
var (
	ErrMissingSessionID = errors.New("session ID is required")
	ErrMissingPrompt    = errors.New("prompt is required")
	ErrMissingBody      = errors.New("request body is required")
	ErrGeneration       = errors.New("wireframe generation failed")
)

// Defaults for service configuration.
const (
	DefaultSessionTTL       = 24 * time.Hour
	DefaultContextWindow    = 10
	DefaultRecentEditsLimit = 5
)

// ServiceConfig configures the SessionService.
type ServiceConfig struct {
	// SessionTTL is the inactivity window after which a session is treated
	// as expired on read. Defaults to DefaultSessionTTL if zero.
	SessionTTL time.Duration

	// ContextWindow is how many context entries feed reference resolution.
	// Defaults to DefaultContextWindow if zero.
	ContextWindow int

	// GeneratorTimeout bounds a single wireframe generation call.
	// Defaults to generator.DefaultTimeout if zero.
	GeneratorTimeout time.Duration

	// Metrics is an optional domain metrics sink. When nil, no domain
	// metrics are recorded.
	Metrics *Metrics
}

// SessionService orchestrates session lifecycle, version creation, context
// processing, and wireframe generation. Safe for concurrent use; concurrent
// edits to the same session are not serialized, so version numbers may
// interleave under contention.
type SessionService struct {
	store      session.Store
	versions   *version.Manager
	engine     *engine.Engine
	gen        generator.Generator
	sessionTTL time.Duration
	ctxWindow  int
	genTimeout time.Duration
	metrics    *Metrics
	log        logr.Logger
	nowFn      func() time.Time
}

// NewSessionService creates a SessionService wired to the given components.
func NewSessionService(store session.Store, versions *version.Manager, eng *engine.Engine, gen generator.Generator, cfg ServiceConfig, log logr.Logger) *SessionService {
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	window := cfg.ContextWindow
	if window <= 0 {
		window = DefaultContextWindow
	}
	genTimeout := cfg.GeneratorTimeout
	if genTimeout <= 0 {
		genTimeout = generator.DefaultTimeout
	}
	return &SessionService{
		store:      store,
		versions:   versions,
		engine:     eng,
		gen:        gen,
		sessionTTL: ttl,
		ctxWindow:  window,
		genTimeout: genTimeout,
		metrics:    cfg.Metrics,
		log:        log.WithName("design-service"),
		nowFn:      time.Now,
	}
}

// CreateResult is the outcome of creating a session.
type CreateResult struct {
	SessionID string         `json:"session_id"`
	Wireframe map[string]any `json:"wireframe_json"`
	Version   int            `json:"version"`
}

// EditResult is the outcome of applying an edit.
type EditResult struct {
	SessionID        string         `json:"session_id"`
	Wireframe        map[string]any `json:"wireframe_json"`
	Version          int            `json:"version"`
	ChangesSummary   string         `json:"changes_summary"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// SessionDetails is the full session view including the current wireframe.
type SessionDetails struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	InitialPrompt  string         `json:"initial_prompt"`
	CurrentVersion int            `json:"current_version"`
	TotalEdits     int            `json:"total_edits"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivity   time.Time      `json:"last_activity"`
	Wireframe      map[string]any `json:"current_wireframe"`
	RecentEdits    []RecentEdit   `json:"recent_edits"`
}

// RecentEdit is one context entry in the session details view.
type RecentEdit struct {
	Prompt           string    `json:"prompt"`
	EditType         string    `json:"edit_type"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

// VersionDetail is one entry in the session history view.
type VersionDetail struct {
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata"`
	ElementCount int            `json:"element_count"`
	Wireframe    map[string]any `json:"wireframe_json"`
}

// IntegrityReport summarizes the hash verification of every stored version.
type IntegrityReport struct {
	SessionID         string `json:"session_id"`
	TotalVersions     int    `json:"total_versions"`
	ValidVersions     int    `json:"valid_versions"`
	InvalidVersions   int    `json:"invalid_versions"`
	CorruptedVersions []int  `json:"corrupted_versions"`
}

// CreateSession creates a session, generates the initial wireframe, and
// stores it as version 1. Generation failure does not fail the call: the
// session starts from a placeholder wireframe instead, and the degradation
// is logged as a distinct event.
func (s *SessionService) CreateSession(ctx context.Context, userID, prompt string) (*CreateResult, error) {
	if prompt == "" {
		return nil, ErrMissingPrompt
	}
	if userID == "" {
		userID = "anonymous"
	}

	now := s.nowFn().UTC()
	sess := &session.Session{
		SessionID:      uuid.New().String(),
		UserID:         userID,
		InitialPrompt:  prompt,
		CurrentVersion: 1,
		CreatedAt:      now,
		LastActivity:   now,
		Status:         session.StatusActive,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	wireframe, err := s.generate(ctx, prompt)
	if err != nil {
		s.log.Info("initial wireframe generation failed, using placeholder",
			"sessionID", sess.SessionID, "error", err.Error())
		wireframe = generator.Placeholder(prompt)
	}

	if err := s.storeInitialState(ctx, sess.SessionID, userID, prompt, wireframe); err != nil {
		return nil, err
	}

	s.log.Info("created design session", "sessionID", sess.SessionID, "userID", userID)
	return &CreateResult{
		SessionID: sess.SessionID,
		Wireframe: wireframe,
		Version:   1,
	}, nil
}

// storeInitialState writes version 1 with its content hash and version
// projection. A session must never exist without a version 1.
func (s *SessionService) storeInitialState(ctx context.Context, sessionID, userID, prompt string, wireframe map[string]any) error {
	hash, err := version.ContentHash(wireframe)
	if err != nil {
		return fmt.Errorf("hash initial wireframe: %w", err)
	}

	now := s.nowFn().UTC()
	state := &session.DesignState{
		Version:   1,
		Wireframe: wireframe,
		Metadata: session.StateMetadata{
			ContentHash: hash,
			EditType:    session.EditTypeModify,
			Extra: map[string]any{
				"initial": true,
				"prompt":  prompt,
				"user_id": userID,
			},
		},
		CreatedAt: now,
	}
	if err := s.store.StoreDesignState(ctx, sessionID, 1, state); err != nil {
		return fmt.Errorf("store initial state: %w", err)
	}

	vm := &session.VersionMetadata{
		Version:        1,
		CreatedAt:      now,
		ChangesSummary: "Initial design",
		EditType:       session.EditTypeModify,
		ContentHash:    hash,
	}
	if err := s.store.StoreVersionMetadata(ctx, sessionID, vm); err != nil {
		s.log.Error(err, "failed to store initial version metadata", "sessionID", sessionID)
	}
	return nil
}

// GetSession returns the session metadata, applying lazy expiration: an
// active session idle past its TTL is marked expired and reported not
// found. Completed sessions are terminal and never transition to
// expired. Live reads bump last_activity.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	sess, err := s.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Status == session.StatusExpired {
		return nil, session.ErrSessionExpired
	}
	if sess.Status == session.StatusActive &&
		s.nowFn().UTC().After(sess.LastActivity.Add(s.sessionTTL)) {
		s.log.Info("session expired, marking", "sessionID", sessionID)
		if err := s.store.SetSessionStatus(ctx, sessionID, session.StatusExpired); err != nil {
			s.log.Error(err, "failed to mark session expired", "sessionID", sessionID)
		}
		return nil, session.ErrSessionExpired
	}

	if err := s.store.UpdateSessionActivity(ctx, sessionID); err != nil {
		s.log.Error(err, "failed to update session activity", "sessionID", sessionID)
	}
	return sess, nil
}

// ApplyEdit runs the edit hot path: load session and current state, process
// the prompt with context, generate the updated wireframe, persist it as a
// new version, and record the edit context. Context bookkeeping failures
// after the version is stored are logged, not surfaced; the stored version
// is never rolled back.
func (s *SessionService) ApplyEdit(ctx context.Context, sessionID, editPrompt string) (*EditResult, error) {
	if editPrompt == "" {
		return nil, ErrMissingPrompt
	}
	start := s.nowFn()

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, session.ErrSessionInactive
	}

	current, err := s.store.GetDesignState(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	history, err := s.store.GetContextHistory(ctx, sessionID, s.ctxWindow)
	if err != nil {
		s.log.Error(err, "failed to load context history", "sessionID", sessionID)
		history = nil
	}

	processed := s.engine.Process(current, editPrompt, history)

	wireframe, err := s.generate(ctx, processed.EnhancedPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	changes := &session.ChangeSet{
		Prompt:         editPrompt,
		EditType:       processed.EditType,
		TargetElements: processed.TargetElements,
		Summary:        fmt.Sprintf("Applied edit: %s", editPrompt),
	}
	extra := map[string]any{
		"edit_prompt":      editPrompt,
		"previous_version": sess.CurrentVersion,
	}
	newVersion, err := s.versions.CreateVersion(ctx, sessionID, wireframe, changes, extra)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	processingTime := time.Since(start).Milliseconds()

	// Context bookkeeping is advisory once the version is stored.
	entry := &session.EditContext{
		Prompt:           editPrompt,
		EditType:         processed.EditType,
		TargetElements:   processed.TargetElements,
		Timestamp:        s.nowFn().UTC(),
		ProcessingTimeMS: processingTime,
	}
	if err := s.store.AddContextEntry(ctx, sessionID, entry); err != nil {
		s.log.Error(err, "failed to record edit context", "sessionID", sessionID)
	}
	if err := s.store.IncrementEditCount(ctx, sessionID); err != nil {
		s.log.Error(err, "failed to increment edit count", "sessionID", sessionID)
	}

	if s.metrics != nil {
		s.metrics.EditsTotal.WithLabelValues(string(processed.EditType)).Inc()
	}

	s.log.Info("applied edit", "sessionID", sessionID,
		"version", newVersion, "editType", processed.EditType,
		"processingTimeMS", processingTime)

	return &EditResult{
		SessionID:        sessionID,
		Wireframe:        wireframe,
		Version:          newVersion,
		ChangesSummary:   changes.Summary,
		ProcessingTimeMS: processingTime,
	}, nil
}

// GetSessionDetails returns the session view with the current wireframe and
// the most recent edits.
func (s *SessionService) GetSessionDetails(ctx context.Context, sessionID string) (*SessionDetails, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetDesignState(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	contexts, err := s.store.GetContextHistory(ctx, sessionID, DefaultRecentEditsLimit)
	if err != nil {
		s.log.Error(err, "failed to load recent edits", "sessionID", sessionID)
		contexts = nil
	}

	recent := make([]RecentEdit, 0, len(contexts))
	for _, c := range contexts {
		recent = append(recent, RecentEdit{
			Prompt:           c.Prompt,
			EditType:         string(c.EditType),
			Timestamp:        c.Timestamp,
			ProcessingTimeMS: c.ProcessingTimeMS,
		})
	}

	return &SessionDetails{
		SessionID:      sess.SessionID,
		UserID:         sess.UserID,
		InitialPrompt:  sess.InitialPrompt,
		CurrentVersion: sess.CurrentVersion,
		TotalEdits:     sess.TotalEdits,
		Status:         string(sess.Status),
		CreatedAt:      sess.CreatedAt,
		LastActivity:   sess.LastActivity,
		Wireframe:      current.Wireframe,
		RecentEdits:    recent,
	}, nil
}

// GetSessionHistory returns every stored version in ascending order.
// Versions whose state cannot be read are skipped.
func (s *SessionService) GetSessionHistory(ctx context.Context, sessionID string) ([]VersionDetail, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	versions, err := s.store.GetAllVersions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	details := make([]VersionDetail, 0, len(versions))
	for _, v := range versions {
		state, err := s.store.GetDesignState(ctx, sessionID, v)
		if err != nil {
			s.log.V(1).Info("skipping unreadable version",
				"sessionID", sessionID, "version", v)
			continue
		}

		elementCount := 0
		if children, ok := state.Wireframe["children"].([]any); ok {
			elementCount = len(children)
		}

		details = append(details, VersionDetail{
			Version:      state.Version,
			CreatedAt:    state.CreatedAt,
			Metadata:     state.Metadata.ToMap(),
			ElementCount: elementCount,
			Wireframe:    state.Wireframe,
		})
	}
	return details, nil
}

// CompleteSession transitions the session to completed.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.SetSessionStatus(ctx, sessionID, session.StatusCompleted); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if err := s.store.UpdateSessionActivity(ctx, sessionID); err != nil {
		s.log.Error(err, "failed to update session activity", "sessionID", sessionID)
	}
	s.log.Info("completed session", "sessionID", sessionID)
	return nil
}

// VerifySessionIntegrity recomputes the content hash of every stored
// version and tallies the results.
func (s *SessionService) VerifySessionIntegrity(ctx context.Context, sessionID string) (*IntegrityReport, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	versions, err := s.store.GetAllVersions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	report := &IntegrityReport{
		SessionID:         sessionID,
		TotalVersions:     len(versions),
		CorruptedVersions: []int{},
	}
	for _, v := range versions {
		if s.versions.VerifyVersionIntegrity(ctx, sessionID, v) {
			report.ValidVersions++
		} else {
			report.InvalidVersions++
			report.CorruptedVersions = append(report.CorruptedVersions, v)
		}
	}
	return report, nil
}

// GetSessionMetrics returns edit metrics for a session. The version-based
// calculation is preferred; when it yields nothing, metrics are rebuilt
// from the session metadata and the context list.
func (s *SessionService) GetSessionMetrics(ctx context.Context, sessionID string) (*session.SessionMetrics, error) {
	metrics, err := s.versions.CalculateSessionMetrics(ctx, sessionID)
	if err == nil && metrics != nil {
		return metrics, nil
	}
	if err != nil {
		s.log.V(1).Info("version metrics unavailable, using context fallback",
			"sessionID", sessionID, "error", err.Error())
	}

	meta, err := s.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	contexts, err := s.store.GetContextHistory(ctx, sessionID, 100)
	if err != nil {
		contexts = nil
	}

	dist := make(map[session.EditType]int)
	var totalProcessing int64
	for _, c := range contexts {
		dist[c.EditType]++
		totalProcessing += c.ProcessingTimeMS
	}
	avg := 0.0
	if len(contexts) > 0 {
		avg = float64(totalProcessing) / float64(len(contexts))
	}

	return &session.SessionMetrics{
		TotalEdits:              meta.TotalEdits,
		SessionDurationMinutes:  int(meta.LastActivity.Sub(meta.CreatedAt).Minutes()),
		EditTypesDistribution:   dist,
		AverageProcessingTimeMS: avg,
	}, nil
}

// GetVersionDiff returns the differences between two stored versions, or
// ErrStateNotFound when either version is missing.
func (s *SessionService) GetVersionDiff(ctx context.Context, sessionID string, fromV, toV int) (*version.Diff, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	diff, err := s.versions.GetVersionDiff(ctx, sessionID, fromV, toV)
	if err != nil {
		return nil, err
	}
	if diff == nil {
		return nil, session.ErrStateNotFound
	}
	return diff, nil
}

// CompressSessionVersions compacts old versions, keeping keepRecent
// uncompressed. Returns the number of versions compressed.
func (s *SessionService) CompressSessionVersions(ctx context.Context, sessionID string, keepRecent int) (int, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	compressed, err := s.versions.CompressOldVersions(ctx, sessionID, keepRecent)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && compressed > 0 {
		s.metrics.VersionsCompressed.Add(float64(compressed))
	}
	return compressed, nil
}

// DeleteSession removes every key belonging to the session.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if _, err := s.store.GetSessionMetadata(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.CleanupSession(ctx, sessionID); err != nil {
		return fmt.Errorf("cleanup session: %w", err)
	}
	s.log.Info("deleted session", "sessionID", sessionID)
	return nil
}

// GetUserSessions returns the user's session ids that are still active.
func (s *SessionService) GetUserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	active := []string{}
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			continue
		}
		if sess.Status == session.StatusActive {
			active = append(active, id)
		}
	}
	return active, nil
}

// generate calls the wireframe generator with the configured timeout and
// records the outcome.
func (s *SessionService) generate(ctx context.Context, prompt string) (map[string]any, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	wireframe, err := s.gen.Generate(genCtx, prompt)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.GeneratorCalls.WithLabelValues(status).Inc()
	}
	return wireframe, err
}
