package engine

// queueScoringJob attempts a non-blocking send onto the job queue. The caller
// must hold e.mu for reading. Returns false if the queue is full or the
// engine is stopped; the scheduler's sweeps pick such memories up later.
func (e *MemoryEngine) queueScoringJob(job *ScoringJob) bool {
	if !e.started {
		return false
	}

	select {
	case e.jobQueue <- job:
		return true
	default:
		e.obs.Log().Warn().
			Int("queue_size", e.config.QueueSize).
			Int("memory_id", int(job.MemoryID)).
			Str("job_id", job.ID).
			Msg("scoring queue full, dropping job")
		return false
	}
}

// enqueue is queueScoringJob for callers that do not already hold e.mu.
func (e *MemoryEngine) enqueue(job *ScoringJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queueScoringJob(job)
}
