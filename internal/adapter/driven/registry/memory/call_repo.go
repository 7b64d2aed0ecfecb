package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// CallRepository keeps active calls in process memory. Records are copied
// in and out so callers never share slices with the store.
type CallRepository struct {
	mu    sync.Mutex
	calls map[domain.ChannelID]domain.Call
}

func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[domain.ChannelID]domain.Call),
	}
}

func (r *CallRepository) Get(ctx context.Context, channelID domain.ChannelID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[channelID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return clone(call), nil
}

func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ChannelID]; ok {
		return domain.ErrCallExists
	}
	r.calls[call.ChannelID] = *clone(*call)
	return nil
}

func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ChannelID] = *clone(*call)
	return nil
}

func (r *CallRepository) Delete(ctx context.Context, channelID domain.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, channelID)
	return nil
}

func (r *CallRepository) List(ctx context.Context) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Call, 0, len(r.calls))
	for _, call := range r.calls {
		out = append(out, clone(call))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func clone(call domain.Call) *domain.Call {
	call.Participants = append([]domain.Participant(nil), call.Participants...)
	return &call
}
