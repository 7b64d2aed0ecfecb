package static

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Directory serves a fixed set of channels, usually loaded from config.
type Directory struct {
	channels map[domain.ChannelID]domain.Channel
}

func NewDirectory(channels []domain.Channel) *Directory {
	d := &Directory{channels: make(map[domain.ChannelID]domain.Channel, len(channels))}
	for _, ch := range channels {
		d.channels[ch.ID] = ch
	}
	return d
}

func (d *Directory) Channel(ctx context.Context, channelID domain.ChannelID) (*domain.Channel, error) {
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return &ch, nil
}
