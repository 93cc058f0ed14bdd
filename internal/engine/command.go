package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"peacasso-client/internal/models"
)

// CommandEngine runs an external generator process per call. The process
// sees only its device through CUDA_VISIBLE_DEVICES, reads the settings as
// JSON on stdin and writes {"images": ["<base64>", ...]} on stdout.
// Cancelling the context kills the process.
type CommandEngine struct {
	device string
	path   string
	args   []string
	env    []string
}

type commandOutput struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// NewCommand creates an engine running path with args for device
func NewCommand(device, path string, args []string) *CommandEngine {
	return &CommandEngine{
		device: device,
		path:   path,
		args:   args,
		env:    append(os.Environ(), "CUDA_VISIBLE_DEVICES="+device),
	}
}

// CommandFactory returns a Factory producing command engines
func CommandFactory(path string, args []string) Factory {
	return func(device string) (Engine, error) {
		if _, err := exec.LookPath(path); err != nil {
			return nil, fmt.Errorf("generator command %q: %w", path, err)
		}
		return NewCommand(device, path, args), nil
	}
}

func (e *CommandEngine) Device() string { return "cuda:" + e.device }

func (e *CommandEngine) Generate(ctx context.Context, s models.Settings) (Output, error) {
	input, err := json.Marshal(s)
	if err != nil {
		return Output{}, fmt.Errorf("marshal settings: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.path, e.args...)
	cmd.Env = e.env
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, fmt.Errorf("generator on %s: %w: %s", e.Device(), err, strings.TrimSpace(stderr.String()))
	}

	var res commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Output{}, fmt.Errorf("decode generator output: %w", err)
	}
	if res.Error != "" {
		return Output{}, fmt.Errorf("generator on %s: %s", e.Device(), res.Error)
	}

	out := Output{Device: e.Device()}
	for i, enc := range res.Images {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return Output{}, fmt.Errorf("decode image %d: %w", i, err)
		}
		out.Images = append(out.Images, data)
	}
	return out, nil
}
