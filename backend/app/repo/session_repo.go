package repo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "fleet:session:"

// SessionRepository tracks live admin sessions by token id so a logout
// revokes the token before it expires.
type SessionRepository struct{ rdb *redis.Client }

func NewSessionRepository(rdb *redis.Client) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

func (r *SessionRepository) Save(ctx context.Context, id, username string, ttl time.Duration) error {
	return r.rdb.Set(ctx, sessionPrefix+id, username, ttl).Err()
}

func (r *SessionRepository) Active(ctx context.Context, id string) (bool, error) {
	_, err := r.rdb.Get(ctx, sessionPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, sessionPrefix+id).Err()
}
