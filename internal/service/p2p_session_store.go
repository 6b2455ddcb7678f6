package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const p2pSessionUpdateAttempts = 5

// PrivateSession is the server's record of a private room between two users.
// Inviters holds the participants whose invitation is still open.
type PrivateSession struct {
	RoomID    string    `json:"room_id"`
	Inviters  []string  `json:"inviters,omitempty"`
	Accepted  bool      `json:"accepted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvitedBy reports whether userID has an open invitation in the room.
func (s PrivateSession) InvitedBy(userID string) bool {
	return slices.Contains(s.Inviters, userID)
}

// Allows reports whether userID may talk in the room. An inviter may talk before the
// peer answers; anyone else needs an accepted session.
func (s PrivateSession) Allows(userID string) bool {
	return s.Accepted || s.InvitedBy(userID)
}

func (s *PrivateSession) invite(userID string) {
	if !s.InvitedBy(userID) {
		s.Inviters = append(s.Inviters, userID)
	}
}

// P2PSessionStore keeps private room state outside any single connection so it survives
// reconnects and is shared between nodes.
type P2PSessionStore interface {
	// Get returns the session of roomID, or a zero session carrying only the room id.
	Get(ctx context.Context, roomID string) (PrivateSession, error)
	// Update applies fn atomically. Returning false from fn removes the session; an error
	// leaves the stored state untouched. fn may run more than once.
	Update(ctx context.Context, roomID string, fn func(*PrivateSession) (bool, error)) (PrivateSession, error)
}

type memoryP2PSessionStore struct {
	mu       sync.Mutex
	sessions map[string]PrivateSession
}

// NewMemoryP2PSessionStore keeps private sessions in process. Suitable for a single node.
func NewMemoryP2PSessionStore() P2PSessionStore {
	return &memoryP2PSessionStore{sessions: make(map[string]PrivateSession)}
}

func (s *memoryP2PSessionStore) Get(_ context.Context, roomID string) (PrivateSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[roomID]
	if !ok {
		return PrivateSession{RoomID: roomID}, nil
	}
	return session.clone(), nil
}

func (s *memoryP2PSessionStore) Update(_ context.Context, roomID string, fn func(*PrivateSession) (bool, error)) (PrivateSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[roomID]
	if !ok {
		session = PrivateSession{RoomID: roomID}
	}
	session = session.clone()

	keep, err := fn(&session)
	if err != nil {
		return PrivateSession{}, err
	}
	if !keep {
		delete(s.sessions, roomID)
		return session, nil
	}
	s.sessions[roomID] = session
	return session.clone(), nil
}

func (s PrivateSession) clone() PrivateSession {
	s.Inviters = slices.Clone(s.Inviters)
	return s
}

type redisP2PSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisP2PSessionStore stores one JSON value per private room. Sessions expire after ttl
// without activity.
func NewRedisP2PSessionStore(client *redis.Client, prefix string, ttl time.Duration) P2PSessionStore {
	if prefix == "" {
		prefix = "gema:forum"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisP2PSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisP2PSessionStore) key(roomID string) string {
	return fmt.Sprintf("%s:p2p:%s", s.prefix, roomID)
}

func (s *redisP2PSessionStore) Get(ctx context.Context, roomID string) (PrivateSession, error) {
	return s.load(ctx, s.client, roomID)
}

func (s *redisP2PSessionStore) load(ctx context.Context, cmd redis.Cmdable, roomID string) (PrivateSession, error) {
	raw, err := cmd.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PrivateSession{RoomID: roomID}, nil
	}
	if err != nil {
		return PrivateSession{}, err
	}

	var session PrivateSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return PrivateSession{}, fmt.Errorf("decode p2p session %s: %w", roomID, err)
	}
	session.RoomID = roomID
	return session, nil
}

func (s *redisP2PSessionStore) Update(ctx context.Context, roomID string, fn func(*PrivateSession) (bool, error)) (PrivateSession, error) {
	key := s.key(roomID)

	var result PrivateSession
	txf := func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}
		keep, err := fn(&session)
		if err != nil {
			return err
		}

		var payload []byte
		if keep {
			if payload, err = json.Marshal(session); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !keep {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err == nil {
			result = session
		}
		return err
	}

	for attempt := 0; attempt < p2pSessionUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return PrivateSession{}, err
		}
		return result, nil
	}
	return PrivateSession{}, fmt.Errorf("update p2p session %s: %w", roomID, redis.TxFailedErr)
}
