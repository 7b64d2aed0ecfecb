package redisstore

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// CallsKey is the hash of channel_id => JSON call record.
const CallsKey = "yacall:calls"

type CallRepository struct {
	rc  redis.UniversalClient
	key string
}

func NewCallRepository(rc redis.UniversalClient) *CallRepository {
	return &CallRepository{rc: rc, key: CallsKey}
}

func (r *CallRepository) Get(ctx context.Context, channelID domain.ChannelID) (*domain.Call, error) {
	data, err := r.rc.HGet(ctx, r.key, channelID.String()).Result()
	if err != nil {
		if err == redis.Nil {
			err = domain.ErrCallNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return err
	}
	ok, err := r.rc.HSetNX(ctx, r.key, call.ChannelID.String(), data).Result()
	if err != nil {
		return errors.Wrap(err, "could not create call")
	}
	if !ok {
		return domain.ErrCallExists
	}
	return nil
}

func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return err
	}
	if err := r.rc.HSet(ctx, r.key, call.ChannelID.String(), data).Err(); err != nil {
		return errors.Wrap(err, "could not save call")
	}
	return nil
}

func (r *CallRepository) Delete(ctx context.Context, channelID domain.ChannelID) error {
	return r.rc.HDel(ctx, r.key, channelID.String()).Err()
}

func (r *CallRepository) List(ctx context.Context) ([]*domain.Call, error) {
	items, err := r.rc.HVals(ctx, r.key).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not get calls")
	}

	calls := make([]*domain.Call, 0, len(items))
	for _, item := range items {
		call, err := decode(item)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].ChannelID < calls[j].ChannelID })
	return calls, nil
}

func decode(data string) (*domain.Call, error) {
	call := &domain.Call{}
	if err := json.Unmarshal([]byte(data), call); err != nil {
		return nil, errors.Wrap(err, "corrupt call record")
	}
	return call, nil
}
