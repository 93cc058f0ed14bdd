// Package engine defines the boundary to the content generator and the
// image post-processing applied to its output.
package engine

import (
	"context"
	"errors"
	"fmt"

	"peacasso-client/internal/models"
)

// ErrImageIndex is returned when the requested output index is not among
// the generated images.
var ErrImageIndex = errors.New("image index out of range")

// Output is what one generate call produces
type Output struct {
	Images [][]byte // encoded images
	Device string
}

// Engine generates images for one device. Implementations are used by a
// single worker and need not be safe for concurrent use.
type Engine interface {
	Generate(ctx context.Context, s models.Settings) (Output, error)
	Device() string
}

// Factory builds the engine bound to a device. It runs once per worker at
// pool startup.
type Factory func(device string) (Engine, error)

// Select picks the image the job asked for
func (o Output) Select(index int) ([]byte, error) {
	if index < 0 || index >= len(o.Images) {
		return nil, fmt.Errorf("%w: %d of %d", ErrImageIndex, index, len(o.Images))
	}
	return o.Images[index], nil
}
