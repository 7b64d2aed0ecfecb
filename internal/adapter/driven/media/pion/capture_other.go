//go:build !linux || !cgo || !capture

package pion

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// SystemDevice has no capture drivers in this build; every request is denied.
// Capture needs linux, cgo and the capture build tag.
type SystemDevice struct{}

func NewSystemDevice() *SystemDevice {
	return &SystemDevice{}
}

func (d *SystemDevice) GetUserMedia(context.Context, port.MediaConstraints) (port.LocalStream, error) {
	return nil, errors.Wrap(domain.ErrMediaAccessDenied, "no capture drivers in this build")
}
