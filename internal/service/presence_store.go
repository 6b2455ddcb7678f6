package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// PresenceStore records which transport sessions are present in a course chat room.
type PresenceStore interface {
	Join(ctx context.Context, courseID string, entry realtime.OnlineUser) error
	// Leave removes a session and reports whether it was present.
	Leave(ctx context.Context, courseID, sessionID string) (bool, error)
	// List returns the roster ordered by join time.
	List(ctx context.Context, courseID string) ([]realtime.OnlineUser, error)
}

type memoryPresenceStore struct {
	mu      sync.RWMutex
	courses map[string]map[string]realtime.OnlineUser
}

// NewMemoryPresenceStore keeps presence in process. Suitable for a single node.
func NewMemoryPresenceStore() PresenceStore {
	return &memoryPresenceStore{courses: make(map[string]map[string]realtime.OnlineUser)}
}

func (s *memoryPresenceStore) Join(_ context.Context, courseID string, entry realtime.OnlineUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.courses[courseID]
	if !ok {
		sessions = make(map[string]realtime.OnlineUser)
		s.courses[courseID] = sessions
	}
	sessions[entry.SessionID] = entry
	return nil
}

func (s *memoryPresenceStore) Leave(_ context.Context, courseID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.courses[courseID]
	if !ok {
		return false, nil
	}
	if _, ok := sessions[sessionID]; !ok {
		return false, nil
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(s.courses, courseID)
	}
	return true, nil
}

func (s *memoryPresenceStore) List(_ context.Context, courseID string) ([]realtime.OnlineUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roster := make([]realtime.OnlineUser, 0, len(s.courses[courseID]))
	for _, entry := range s.courses[courseID] {
		roster = append(roster, entry)
	}
	sortRoster(roster)
	return roster, nil
}

type redisPresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPresenceStore shares presence between nodes through one redis hash per course.
// The hash expires after ttl without joins so crashed nodes do not leave ghosts forever.
func NewRedisPresenceStore(client *redis.Client, prefix string, ttl time.Duration) PresenceStore {
	if prefix == "" {
		prefix = "gema:forum"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisPresenceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisPresenceStore) key(courseID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, courseID)
}

func (s *redisPresenceStore) Join(ctx context.Context, courseID string, entry realtime.OnlineUser) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := s.key(courseID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entry.SessionID, payload)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisPresenceStore) Leave(ctx context.Context, courseID, sessionID string) (bool, error) {
	removed, err := s.client.HDel(ctx, s.key(courseID), sessionID).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *redisPresenceStore) List(ctx context.Context, courseID string) ([]realtime.OnlineUser, error) {
	values, err := s.client.HGetAll(ctx, s.key(courseID)).Result()
	if err != nil {
		return nil, err
	}

	roster := make([]realtime.OnlineUser, 0, len(values))
	for _, raw := range values {
		var entry realtime.OnlineUser
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		roster = append(roster, entry)
	}
	sortRoster(roster)
	return roster, nil
}

func sortRoster(roster []realtime.OnlineUser) {
	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].SessionID < roster[j].SessionID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
}
