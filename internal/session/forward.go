package session

import (
	"context"
	"encoding/base64"

	"peacasso-client/internal/metrics"
	"peacasso-client/internal/models"
)

// forwardJobs moves jobs from the dedup queue into the pool's input queue,
// one at a time: the next job is pulled only once the previous one has been
// taken by a worker. Until then resubmissions keep replacing the pending
// entry in the dedup queue, and an update for the job waiting in the input
// queue is dropped as current.
func (h *Handler) forwardJobs(ctx context.Context) {
	h.logger.Debug("job forwarder started")
	defer h.logger.Debug("job forwarder stopped")

	in := h.pool.Input()
	for ctx.Err() == nil {
		if !in.WaitEmpty(h.cfg.PollTimeout) {
			continue
		}
		job, ok := h.queue.Get(h.cfg.PollTimeout)
		if !ok {
			continue
		}
		in.Put(job)
		metrics.QueueLength.WithLabelValues("dedup").Set(float64(h.queue.Len()))
		metrics.QueueLength.WithLabelValues("input").Set(float64(in.Len()))
	}
}

// forwardResults sends pool results to the server as update envelopes. A
// result whose write fails goes back on the output queue for the next
// connection.
func (h *Handler) forwardResults(ctx context.Context, conn Transport) {
	h.logger.Debug("result forwarder started")
	defer h.logger.Debug("result forwarder stopped")

	out := h.pool.Output()
	for ctx.Err() == nil {
		result, ok := out.GetTimeout(h.cfg.PollTimeout)
		if !ok {
			continue
		}
		req := models.UpdateRequest{
			Action:    "update",
			RequestID: h.requestID(),
			PK:        result.JobID,
			Data:      models.UpdateImage{Image: base64.StdEncoding.EncodeToString(result.Artifact)},
		}
		if err := conn.WriteJSON(req); err != nil {
			out.Put(result)
			h.logger.Warn("failed to send result, requeued", "job_id", result.JobID, "error", err)
			conn.Close()
			return
		}
		metrics.ResultsSentTotal.Inc()
		metrics.QueueLength.WithLabelValues("output").Set(float64(out.Len()))
		h.logger.Debug("result sent", "job_id", result.JobID, "device", result.ProducedBy, "cached", result.CacheHit)
	}
}
