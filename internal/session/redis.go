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

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns. These are the persisted layout; changing them is a
// data migration.
const (
	sessionKeyFmt         = "session:%s:metadata"
	stateKeyFmt           = "session:%s:state:v%d"
	statePatternFmt       = "session:%s:state:v*"
	versionMetadataKeyFmt = "session:%s:version_metadata:v%d"
	versionMetaPatternFmt = "session:%s:version_metadata:v*"
	contextKeyFmt         = "session:%s:context"
	userSessionsKeyFmt    = "user:%s:sessions"
)

// Metadata hash field names.
const (
	fieldSessionID      = "session_id"
	fieldUserID         = "user_id"
	fieldInitialPrompt  = "initial_prompt"
	fieldCurrentVersion = "current_version"
	fieldCreatedAt      = "created_at"
	fieldLastActivity   = "last_activity"
	fieldStatus         = "status"
	fieldTotalEdits     = "total_edits"
)

// DefaultSessionTTL is the idle expiration window applied to all session keys.
const DefaultSessionTTL = 24 * time.Hour

// DefaultContextLimit bounds the per-session context list.
const DefaultContextLimit = 10

// RedisConfig contains configuration for the Redis state store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (empty for no auth).
	Password string
	// DB is the Redis database number.
	DB int
	// SessionTTL is the idle expiration window; zero means DefaultSessionTTL.
	SessionTTL time.Duration
	// ContextLimit bounds the context list; zero means DefaultContextLimit.
	ContextLimit int
}

// ParseRedisURL parses a redis:// connection string into a RedisConfig.
func ParseRedisURL(url string) (RedisConfig, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return RedisConfig{}, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return RedisConfig{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// RedisStore implements Store on a Redis-compatible server.
type RedisStore struct {
	client       *redis.Client
	sessionTTL   time.Duration
	contextLimit int
}

// NewRedisStore creates a Redis state store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg), nil
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	limit := cfg.ContextLimit
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	return &RedisStore{
		client:       client,
		sessionTTL:   ttl,
		contextLimit: limit,
	}
}

// SessionTTL returns the configured idle expiration window.
func (r *RedisStore) SessionTTL() time.Duration { return r.sessionTTL }

// ContextLimit returns the configured context list bound.
func (r *RedisStore) ContextLimit() int { return r.contextLimit }

func sessionKey(sessionID string) string { return fmt.Sprintf(sessionKeyFmt, sessionID) }
func stateKey(sessionID string, v int) string {
	return fmt.Sprintf(stateKeyFmt, sessionID, v)
}
func versionMetadataKey(sessionID string, v int) string {
	return fmt.Sprintf(versionMetadataKeyFmt, sessionID, v)
}
func contextKey(sessionID string) string { return fmt.Sprintf(contextKeyFmt, sessionID) }
func userSessionsKey(userID string) string {
	return fmt.Sprintf(userSessionsKeyFmt, userID)
}

// CreateSession writes the metadata hash and registers the session in the
// owner's set, with TTLs on both keys.
func (r *RedisStore) CreateSession(ctx context.Context, s *Session) error {
	if s.SessionID == "" {
		return ErrInvalidSessionID
	}

	fields := map[string]any{
		fieldSessionID:      s.SessionID,
		fieldUserID:         s.UserID,
		fieldInitialPrompt:  s.InitialPrompt,
		fieldCurrentVersion: s.CurrentVersion,
		fieldCreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldLastActivity:   s.LastActivity.UTC().Format(time.RFC3339Nano),
		fieldStatus:         string(s.Status),
		fieldTotalEdits:     s.TotalEdits,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, sessionKey(s.SessionID), fields)
	pipe.Expire(ctx, sessionKey(s.SessionID), r.sessionTTL)
	pipe.SAdd(ctx, userSessionsKey(s.UserID), s.SessionID)
	pipe.Expire(ctx, userSessionsKey(s.UserID), r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionMetadata reads the session record.
func (r *RedisStore) GetSessionMetadata(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	data, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}

	createdAt, err := parseTime(data[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("failed to parse session created_at: %w", err)
	}
	lastActivity, err := parseTime(data[fieldLastActivity])
	if err != nil {
		return nil, fmt.Errorf("failed to parse session last_activity: %w", err)
	}
	currentVersion, _ := strconv.Atoi(data[fieldCurrentVersion])
	totalEdits, _ := strconv.Atoi(data[fieldTotalEdits])

	return &Session{
		SessionID:      data[fieldSessionID],
		UserID:         data[fieldUserID],
		InitialPrompt:  data[fieldInitialPrompt],
		CurrentVersion: currentVersion,
		CreatedAt:      createdAt,
		LastActivity:   lastActivity,
		Status:         SessionStatus(data[fieldStatus]),
		TotalEdits:     totalEdits,
	}, nil
}

// UpdateSessionActivity overwrites last_activity with the current time.
// TTL refresh is a separate concern handled by write paths.
func (r *RedisStore) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	err := r.client.HSet(ctx, sessionKey(sessionID),
		fieldLastActivity, time.Now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}
	return nil
}

// SetSessionStatus overwrites the session status field.
func (r *RedisStore) SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	err := r.client.HSet(ctx, sessionKey(sessionID), fieldStatus, string(status)).Err()
	if err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	return nil
}

// StoreDesignState writes a versioned state hash with a TTL and advances
// current_version on the session metadata hash.
func (r *RedisStore) StoreDesignState(ctx context.Context, sessionID string, version int, state *DesignState) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	wireframe, err := json.Marshal(state.Wireframe)
	if err != nil {
		return fmt.Errorf("failed to marshal wireframe: %w", err)
	}
	metadata, err := json.Marshal(state.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal state metadata: %w", err)
	}

	fields := map[string]any{
		"wireframe_json": string(wireframe),
		"metadata":       string(metadata),
		fieldCreatedAt:   state.CreatedAt.UTC().Format(time.RFC3339Nano),
		"version":        version,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey(sessionID, version), fields)
	pipe.Expire(ctx, stateKey(sessionID, version), r.sessionTTL)
	pipe.HSet(ctx, sessionKey(sessionID), fieldCurrentVersion, version)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store design state v%d: %w", version, err)
	}
	return nil
}

// SetCurrentVersion overwrites the session's current_version pointer.
func (r *RedisStore) SetCurrentVersion(ctx context.Context, sessionID string, version int) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	err := r.client.HSet(ctx, sessionKey(sessionID), fieldCurrentVersion, version).Err()
	if err != nil {
		return fmt.Errorf("failed to set current version: %w", err)
	}
	return nil
}

// GetDesignState reads one version. A version <= 0 resolves the session's
// current version first.
func (r *RedisStore) GetDesignState(ctx context.Context, sessionID string, version int) (*DesignState, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	if version <= 0 {
		meta, err := r.GetSessionMetadata(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		version = meta.CurrentVersion
	}

	data, err := r.client.HGetAll(ctx, stateKey(sessionID, version)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get design state v%d: %w", version, err)
	}
	if len(data) == 0 {
		return nil, ErrStateNotFound
	}

	var wireframe map[string]any
	if err := json.Unmarshal([]byte(data["wireframe_json"]), &wireframe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wireframe v%d: %w", version, err)
	}
	var metadata StateMetadata
	if err := json.Unmarshal([]byte(data["metadata"]), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state metadata v%d: %w", version, err)
	}
	createdAt, err := parseTime(data[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("failed to parse state created_at: %w", err)
	}
	storedVersion, _ := strconv.Atoi(data["version"])

	return &DesignState{
		Version:   storedVersion,
		Wireframe: wireframe,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}, nil
}

// GetAllVersions scans the session's state keys and returns the version
// numbers sorted ascending.
func (r *RedisStore) GetAllVersions(ctx context.Context, sessionID string) ([]int, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	pattern := fmt.Sprintf(statePatternFmt, sessionID)
	var versions []int
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":v")
		if idx < 0 {
			continue
		}
		v, err := strconv.Atoi(key[idx+2:])
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan versions: %w", err)
	}

	sort.Ints(versions)
	return versions, nil
}

// StoreVersionMetadata writes the fast-access projection for a version.
func (r *RedisStore) StoreVersionMetadata(ctx context.Context, sessionID string, vm *VersionMetadata) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	targets, err := json.Marshal(vm.TargetElements)
	if err != nil {
		return fmt.Errorf("failed to marshal target elements: %w", err)
	}

	fields := map[string]any{
		"version":            vm.Version,
		fieldCreatedAt:       vm.CreatedAt.UTC().Format(time.RFC3339Nano),
		"changes_summary":    vm.ChangesSummary,
		"edit_type":          string(vm.EditType),
		"target_elements":    string(targets),
		"processing_time_ms": vm.ProcessingTimeMS,
		"content_hash":       vm.ContentHash,
		"compressed":         strconv.FormatBool(vm.Compressed),
	}

	key := versionMetadataKey(sessionID, vm.Version)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store version metadata v%d: %w", vm.Version, err)
	}
	return nil
}

// GetVersionMetadata reads the projection for one version.
func (r *RedisStore) GetVersionMetadata(ctx context.Context, sessionID string, version int) (*VersionMetadata, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	data, err := r.client.HGetAll(ctx, versionMetadataKey(sessionID, version)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get version metadata v%d: %w", version, err)
	}
	if len(data) == 0 {
		return nil, ErrStateNotFound
	}

	createdAt, err := parseTime(data[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("failed to parse version metadata created_at: %w", err)
	}
	var targets []string
	if data["target_elements"] != "" {
		if err := json.Unmarshal([]byte(data["target_elements"]), &targets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target elements: %w", err)
		}
	}
	storedVersion, _ := strconv.Atoi(data["version"])
	processingTime, _ := strconv.ParseInt(data["processing_time_ms"], 10, 64)

	return &VersionMetadata{
		Version:          storedVersion,
		CreatedAt:        createdAt,
		ChangesSummary:   data["changes_summary"],
		EditType:         EditType(data["edit_type"]),
		TargetElements:   targets,
		ProcessingTimeMS: processingTime,
		ContentHash:      data["content_hash"],
		Compressed:       data["compressed"] == "true",
	}, nil
}

// MarkVersionCompressed flips the compressed flag on the projection.
func (r *RedisStore) MarkVersionCompressed(ctx context.Context, sessionID string, version int) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	err := r.client.HSet(ctx, versionMetadataKey(sessionID, version), "compressed", "true").Err()
	if err != nil {
		return fmt.Errorf("failed to mark version %d compressed: %w", version, err)
	}
	return nil
}

// AddContextEntry prepends a JSON-encoded entry, trims the list to the
// configured limit, and refreshes the list TTL.
func (r *RedisStore) AddContextEntry(ctx context.Context, sessionID string, ec *EditContext) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	if ec.Timestamp.IsZero() {
		ec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal context entry: %w", err)
	}

	key := contextKey(sessionID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.contextLimit-1))
	pipe.Expire(ctx, key, r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add context entry: %w", err)
	}
	return nil
}

// GetContextHistory returns up to limit entries, newest first.
func (r *RedisStore) GetContextHistory(ctx context.Context, sessionID string, limit int) ([]EditContext, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	if limit <= 0 {
		limit = r.contextLimit
	}

	entries, err := r.client.LRange(ctx, contextKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get context history: %w", err)
	}

	contexts := make([]EditContext, 0, len(entries))
	for _, entry := range entries {
		var ec EditContext
		if err := json.Unmarshal([]byte(entry), &ec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context entry: %w", err)
		}
		contexts = append(contexts, ec)
	}
	return contexts, nil
}

// IncrementEditCount atomically increments total_edits.
func (r *RedisStore) IncrementEditCount(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	err := r.client.HIncrBy(ctx, sessionKey(sessionID), fieldTotalEdits, 1).Err()
	if err != nil {
		return fmt.Errorf("failed to increment edit count: %w", err)
	}
	return nil
}

// RefreshTTL re-arms expiration on the metadata and context keys.
func (r *RedisStore) RefreshTTL(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	pipe := r.client.Pipeline()
	pipe.Expire(ctx, sessionKey(sessionID), r.sessionTTL)
	pipe.Expire(ctx, contextKey(sessionID), r.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh TTL: %w", err)
	}
	return nil
}

// CleanupSession deletes every key belonging to the session.
func (r *RedisStore) CleanupSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	keys := []string{sessionKey(sessionID), contextKey(sessionID)}
	for _, pattern := range []string{
		fmt.Sprintf(statePatternFmt, sessionID),
		fmt.Sprintf(versionMetaPatternFmt, sessionID),
	} {
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan session keys: %w", err)
		}
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	return nil
}

// GetUserSessions returns the session ids registered for a user.
func (r *RedisStore) GetUserSessions(ctx context.Context, userID string) ([]string, error) {
	sessions, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	return sessions, nil
}

// Ping verifies connectivity to Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// parseTime accepts RFC3339 with or without sub-second precision.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
