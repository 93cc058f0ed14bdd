package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Generation defaults applied to every field the server leaves out.
const (
	DefaultNumImages     = 1
	DefaultMode          = "prompt"
	DefaultHeight        = 512
	DefaultWidth         = 512
	DefaultSteps         = 20
	DefaultGuidanceScale = 7.5
	DefaultEta           = 0.0
	DefaultOutputType    = "pil"
	DefaultStrength      = 0.8
	DefaultImageIndex    = 0
	DefaultImageWidth    = 512
	DefaultImageHeight   = 512
)

// Prompt accepts either a single string or a list of strings on the wire.
type Prompt []string

func (p *Prompt) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*p = Prompt{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("prompt must be a string or a list of strings: %w", err)
	}
	*p = Prompt(many)
	return nil
}

func (p Prompt) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}
	return json.Marshal([]string(p))
}

// String joins the prompt parts into one normalized string: parts are
// trimmed, joined by a single space and runs of whitespace collapsed.
func (p Prompt) String() string {
	return strings.Join(strings.Fields(strings.Join(p, " ")), " ")
}

// Params is the parameter set of a job as sent by the server. Optional
// fields are pointers so an omitted field and an explicit null both
// resolve to the default.
type Params struct {
	Prompt              Prompt          `json:"prompt"`
	NumImages           *int            `json:"num_images,omitempty"`
	Mode                *string         `json:"mode,omitempty"`
	Height              *int            `json:"height,omitempty"`
	Width               *int            `json:"width,omitempty"`
	NumInferenceSteps   *int            `json:"num_inference_steps,omitempty"`
	GuidanceScale       *float64        `json:"guidance_scale,omitempty"`
	Eta                 *float64        `json:"eta,omitempty"`
	OutputType          *string         `json:"output_type,omitempty"`
	Strength            *float64        `json:"strength,omitempty"`
	InitImage           *string         `json:"init_image,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
	ReturnIntermediates *bool           `json:"return_intermediates,omitempty"`
	MaskImage           *string         `json:"mask_image,omitempty"`
	AttentionSlice      json.RawMessage `json:"attention_slice,omitempty"`
	ImageIndex          *int            `json:"image_index,omitempty"`
	ImageWidth          *int            `json:"image_width,omitempty"`
	ImageHeight         *int            `json:"image_height,omitempty"`
}

// Settings is a parameter set with every default resolved. It is what
// engines receive and what cache keys are derived from.
type Settings struct {
	Prompt              string  `json:"prompt"`
	NumImages           int     `json:"num_images"`
	Mode                string  `json:"mode"`
	Height              int     `json:"height"`
	Width               int     `json:"width"`
	NumInferenceSteps   int     `json:"num_inference_steps"`
	GuidanceScale       float64 `json:"guidance_scale"`
	Eta                 float64 `json:"eta"`
	OutputType          string  `json:"output_type"`
	Strength            float64 `json:"strength"`
	InitImage           string  `json:"init_image,omitempty"`
	Seed                *int64  `json:"seed"`
	ReturnIntermediates bool    `json:"return_intermediates"`
	MaskImage           string  `json:"mask_image,omitempty"`
	AttentionSlice      string  `json:"attention_slice"`
	ImageIndex          int     `json:"image_index"`
	ImageWidth          int     `json:"image_width"`
	ImageHeight         int     `json:"image_height"`
}

// Resolve applies defaults to every omitted field.
func (p Params) Resolve() Settings {
	s := Settings{
		Prompt:              p.Prompt.String(),
		NumImages:           intOr(p.NumImages, DefaultNumImages),
		Mode:                stringOr(p.Mode, DefaultMode),
		Height:              intOr(p.Height, DefaultHeight),
		Width:               intOr(p.Width, DefaultWidth),
		NumInferenceSteps:   intOr(p.NumInferenceSteps, DefaultSteps),
		GuidanceScale:       floatOr(p.GuidanceScale, DefaultGuidanceScale),
		Eta:                 floatOr(p.Eta, DefaultEta),
		OutputType:          stringOr(p.OutputType, DefaultOutputType),
		Strength:            floatOr(p.Strength, DefaultStrength),
		InitImage:           stringOr(p.InitImage, ""),
		MaskImage:           stringOr(p.MaskImage, ""),
		AttentionSlice:      attentionSlice(p.AttentionSlice),
		ImageIndex:          intOr(p.ImageIndex, DefaultImageIndex),
		ImageWidth:          intOr(p.ImageWidth, DefaultImageWidth),
		ImageHeight:         intOr(p.ImageHeight, DefaultImageHeight),
		ReturnIntermediates: p.ReturnIntermediates != nil && *p.ReturnIntermediates,
	}
	if p.Seed != nil {
		seed := *p.Seed
		s.Seed = &seed
	}
	return s
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// attentionSlice flattens the string|int|null attention_slice field.
func attentionSlice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
