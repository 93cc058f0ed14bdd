package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"peacasso-client/internal/cache"
	"peacasso-client/internal/engine"
	"peacasso-client/internal/metrics"
	"peacasso-client/internal/models"
	"peacasso-client/internal/queue"
)

// Recorder persists produced results. It is called from every worker
// goroutine.
type Recorder interface {
	RecordResult(ctx context.Context, r *models.Result) error
}

// Worker owns one device and its engine
type Worker struct {
	id       int
	device   string
	engine   engine.Engine
	cache    *cache.Cache
	in       *queue.Queue[*models.Job]
	out      *queue.Queue[*models.Result]
	recorder Recorder
	logger   *slog.Logger
}

// Start pulls jobs until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started", "engine_device", w.engine.Device())

	for {
		job, err := w.in.Get(ctx)
		if err != nil {
			w.logger.Info("worker shutting down")
			return
		}
		w.processJob(ctx, job)
	}
}

// processJob turns one job into a result. Failures drop the job and keep
// the worker alive.
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.JobsDroppedTotal.WithLabelValues("panic").Inc()
			w.logger.Error("job panicked, dropping it", "job_id", job.ID, "panic", r)
		}
	}()
	start := time.Now()
	s := job.Params.Resolve()

	artifact, hit, err := w.execute(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			w.logger.Info("job abandoned on shutdown", "job_id", job.ID)
			return
		}
		metrics.JobsDroppedTotal.WithLabelValues("engine_error").Inc()
		w.logger.Error("generation failed, dropping job",
			"job_id", job.ID, "prompt", SanitizePrompt(s.Prompt, 50), "error", err)
		return
	}

	result := &models.Result{
		JobID:      job.ID,
		Origin:     job.Origin,
		Artifact:   artifact,
		ProducedBy: w.device,
		CacheHit:   hit,
		Duration:   time.Since(start),
		CreatedAt:  time.Now(),
	}
	if w.recorder != nil {
		if err := w.recorder.RecordResult(ctx, result); err != nil {
			w.logger.Warn("failed to record result", "job_id", job.ID, "error", err)
		}
	}
	w.out.Put(result)

	label := metrics.CacheLabel(hit)
	metrics.JobsCompletedTotal.WithLabelValues(w.device, label).Inc()
	metrics.GenerateDurationSeconds.WithLabelValues(w.device, label).Observe(result.Duration.Seconds())
	if hit {
		w.logger.Info("cached", "job_id", job.ID, "prompt", SanitizePrompt(s.Prompt, 50), "website", job.Origin)
	} else {
		w.logger.Info("created", "job_id", job.ID, "prompt", SanitizePrompt(s.Prompt, 50),
			"website", job.Origin, "duration", result.Duration)
	}
}

// execute serves s from the cache or generates, fits and caches it
func (w *Worker) execute(ctx context.Context, s models.Settings) (artifact []byte, hit bool, err error) {
	if data, ok := w.cache.Get(s); ok {
		return data, true, nil
	}

	out, err := w.generate(ctx, s)
	if err != nil {
		return nil, false, err
	}
	img, err := out.Select(s.ImageIndex)
	if err != nil {
		return nil, false, err
	}
	artifact, err = engine.Fit(img, s.ImageWidth, s.ImageHeight)
	if err != nil {
		return nil, false, err
	}

	if err := w.cache.Put(s, artifact); err != nil {
		metrics.CacheWriteErrorsTotal.Inc()
		w.logger.Warn("cache write failed", "error", err)
	}
	return artifact, false, nil
}

// generate calls the engine, converting a panic into an error
func (w *Worker) generate(ctx context.Context, s models.Settings) (out engine.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	out, err = w.engine.Generate(ctx, s)
	if err == nil && len(out.Images) == 0 {
		err = errors.New("engine returned no images")
	}
	return out, err
}

// SanitizePrompt flattens newlines and truncates s to length for logging
func SanitizePrompt(s string, length int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) < length-3 {
		return s
	}
	return string(r[:length-3]) + "..."
}
