// Package cache stores generated artifacts on disk, addressed by a digest
// of the canonical job parameters.
//
// Layout: <root>/<first 8 hex chars of key>/<key>, raw bytes, no sidecar.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"peacasso-client/internal/models"
)

// ShardLen is the length of the key prefix naming a shard directory.
const ShardLen = 8

// canonical is the hashed form of a parameter set. Images are reduced to
// digests so keys stay short and independent of image size.
type canonical struct {
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
	InitImage           string  `json:"init_image"`
	Seed                *int64  `json:"seed"`
	ReturnIntermediates bool    `json:"return_intermediates"`
	MaskImage           string  `json:"mask_image"`
	AttentionSlice      string  `json:"attention_slice"`
	ImageIndex          int     `json:"image_index"`
	ImageWidth          int     `json:"image_width"`
	ImageHeight         int     `json:"image_height"`
}

// Key derives the cache key of a parameter set. Parameters that resolve to
// the same settings always produce the same key.
func Key(p models.Params) string {
	return SettingsKey(p.Resolve())
}

// SettingsKey derives the cache key of already resolved settings.
func SettingsKey(s models.Settings) string {
	c := canonical{
		Prompt:              s.Prompt,
		NumImages:           s.NumImages,
		Mode:                s.Mode,
		Height:              s.Height,
		Width:               s.Width,
		NumInferenceSteps:   s.NumInferenceSteps,
		GuidanceScale:       s.GuidanceScale,
		Eta:                 s.Eta,
		OutputType:          s.OutputType,
		Strength:            s.Strength,
		InitImage:           digest(s.InitImage),
		Seed:                s.Seed,
		ReturnIntermediates: s.ReturnIntermediates,
		MaskImage:           digest(s.MaskImage),
		AttentionSlice:      s.AttentionSlice,
		ImageIndex:          s.ImageIndex,
		ImageWidth:          s.ImageWidth,
		ImageHeight:         s.ImageHeight,
	}
	// Marshal of a flat struct of scalars cannot fail.
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func digest(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Cache is a best-effort artifact store. It never evicts.
type Cache struct {
	root   string
	logger *slog.Logger
}

// New creates a cache rooted at dir. The directory is created lazily.
func New(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: dir, logger: logger.With("component", "cache")}
}

// Root returns the cache root directory
func (c *Cache) Root() string {
	return c.root
}

// Path returns where the artifact for key lives
func (c *Cache) Path(key string) string {
	shard := key
	if len(shard) > ShardLen {
		shard = shard[:ShardLen]
	}
	return filepath.Join(c.root, shard, key)
}

// Get looks up the artifact stored for these settings. A miss, and any
// read failure, report ok=false.
func (c *Cache) Get(s models.Settings) ([]byte, bool) {
	key := SettingsKey(s)
	data, err := os.ReadFile(c.Path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Put stores an artifact for these settings. Writes go to a temporary file
// that is synced and renamed into place, so racing writers of the same key
// always leave one complete file behind.
func (c *Cache) Put(s models.Settings, data []byte) error {
	key := SettingsKey(s)
	path := c.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
