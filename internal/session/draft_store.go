// Package session persists editors' unsaved field edits in Redis so a draft
// survives page reloads and API restarts.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Draft is one editor's unsaved edits for one document, keyed
// nodeID -> fieldID -> value.
type Draft struct {
	Edits     map[string]map[string]string `json:"edits"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// DraftStore stores drafts in Redis with a sliding TTL.
type DraftStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDraftStore connects to Redis and verifies the connection.
func NewDraftStore(redisURL string, ttl time.Duration) (*DraftStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDraftStoreWithClient(client, ttl), nil
}

// NewDraftStoreWithClient creates a store from an existing Redis client.
func NewDraftStoreWithClient(client *redis.Client, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DraftStore{client: client, prefix: "draft:", ttl: ttl}
}

func (s *DraftStore) key(userID, documentID string) string {
	return s.prefix + userID + ":" + documentID
}

// SaveDraft replaces the stored draft and refreshes its TTL. An empty edit
// map deletes the draft instead of storing a husk.
func (s *DraftStore) SaveDraft(ctx context.Context, userID, documentID string, edits map[string]map[string]string) error {
	if len(edits) == 0 {
		return s.DeleteDraft(ctx, userID, documentID)
	}

	data, err := json.Marshal(Draft{Edits: edits, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID, documentID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the stored draft, or an empty one when none exists.
func (s *DraftStore) LoadDraft(ctx context.Context, userID, documentID string) (Draft, error) {
	raw, err := s.client.Get(ctx, s.key(userID, documentID)).Result()
	if err == redis.Nil {
		return Draft{Edits: map[string]map[string]string{}}, nil
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return Draft{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	if draft.Edits == nil {
		draft.Edits = map[string]map[string]string{}
	}
	return draft, nil
}

// DeleteDraft discards a stored draft. Deleting a missing draft is not an
// error.
func (s *DraftStore) DeleteDraft(ctx context.Context, userID, documentID string) error {
	if err := s.client.Del(ctx, s.key(userID, documentID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *DraftStore) Close() error {
	return s.client.Close()
}
