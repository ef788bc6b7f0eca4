package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/caravanhq/caravan/models"
	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "mailtoken:"

// Approval emails can be answered days later, but not forever.
const tokenTTL = 30 * 24 * time.Hour

// TokenBinding is what a resolved reply token points back to.
type TokenBinding struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
}

// TokenStore resolves email reply tokens (provider message ids) back to the
// session and participant they were sent for.
type TokenStore interface {
	Save(ctx context.Context, token string, binding TokenBinding) error
	Resolve(ctx context.Context, token string) (TokenBinding, error)
}

// redisTokenStore implements TokenStore using Redis
type redisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore creates a token store over an existing Redis client.
func NewRedisTokenStore(client *redis.Client) TokenStore {
	return &redisTokenStore{client: client}
}

func (r *redisTokenStore) Save(ctx context.Context, token string, binding TokenBinding) error {
	data, err := json.Marshal(binding)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, tokenKeyPrefix+token, data, tokenTTL).Err()
}

func (r *redisTokenStore) Resolve(ctx context.Context, token string) (TokenBinding, error) {
	val, err := r.client.Get(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TokenBinding{}, models.ErrTokenNotFound
		}
		return TokenBinding{}, err
	}
	var binding TokenBinding
	if err := json.Unmarshal([]byte(val), &binding); err != nil {
		return TokenBinding{}, err
	}
	return binding, nil
}
