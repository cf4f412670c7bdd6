package presence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/meshcast/socket/src/broker"
)

// Membership keys:
//
//	presence:<ns>:room:<room> -> set of userIDs
//	presence:<ns>:user:<user> -> set of room names
func roomKey(ns, room string) string { return "presence:" + ns + ":room:" + room }
func userKey(ns, user string) string { return "presence:" + ns + ":user:" + user }

// RedisStore is the multi-node Store variant backed by Redis sets.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *broker.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "presence: redis ping")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) AddUserToRoom(ctx context.Context, ns, room, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, roomKey(ns, room), userID)
	pipe.SAdd(ctx, userKey(ns, userID), room)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "presence: add %s to %s/%s", userID, ns, room)
	}
	return nil
}

func (s *RedisStore) RemoveUserFromRoom(ctx context.Context, ns, room, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, roomKey(ns, room), userID)
	pipe.SRem(ctx, userKey(ns, userID), room)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "presence: remove %s from %s/%s", userID, ns, room)
	}
	return nil
}

func (s *RedisStore) UsersInRoom(ctx context.Context, ns, room string) ([]string, error) {
	users, err := s.client.SMembers(ctx, roomKey(ns, room)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "presence: members of %s/%s", ns, room)
	}
	return users, nil
}

func (s *RedisStore) RoomsForUser(ctx context.Context, ns, userID string) ([]string, error) {
	rooms, err := s.client.SMembers(ctx, userKey(ns, userID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "presence: rooms of %s/%s", ns, userID)
	}
	return rooms, nil
}

func (s *RedisStore) CountUsersInRoom(ctx context.Context, ns, room string) (int64, error) {
	n, err := s.client.SCard(ctx, roomKey(ns, room)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "presence: count %s/%s", ns, room)
	}
	return n, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
