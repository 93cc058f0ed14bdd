package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"peacasso-client/internal/models"
)

// FakeEngine renders solid-colour images. It stands in for a real generator
// on hosts without an accelerator.
type FakeEngine struct {
	device string
	delay  time.Duration
	fill   color.Color
}

// NewFake creates a fake engine for device that takes delay per call
func NewFake(device string, delay time.Duration) *FakeEngine {
	return &FakeEngine{
		device: "cuda:" + device,
		delay:  delay,
		fill:   color.RGBA{R: 255, A: 255},
	}
}

// FakeFactory returns a Factory producing fake engines
func FakeFactory(delay time.Duration) Factory {
	return func(device string) (Engine, error) {
		return NewFake(device, delay), nil
	}
}

func (e *FakeEngine) Device() string { return e.device }

func (e *FakeEngine) Generate(ctx context.Context, s models.Settings) (Output, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return Output{}, fmt.Errorf("invalid dimensions %dx%d", s.Width, s.Height)
	}
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-timer.C:
		}
	}

	n := s.NumImages
	if n < 1 {
		n = 1
	}
	out := Output{Device: e.device}
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: e.fill}, image.Point{}, draw.Src)
		data, err := EncodePNG(img)
		if err != nil {
			return Output{}, err
		}
		out.Images = append(out.Images, data)
	}
	return out, nil
}
