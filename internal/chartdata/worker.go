package chartdata

import (
	"context"
	"time"

	"vision-worker/internal/logger"
)

// GenerateRequest asks for Count records; zero means DefaultCount.
type GenerateRequest struct {
	Count int
}

// Worker serves GENERATE requests one after another.
type Worker struct {
	synth *Synthesizer
	log   logger.Logger
}

func NewWorker(synth *Synthesizer, log logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{synth: synth, log: log}
}

func (w *Worker) Run(ctx context.Context, inbox <-chan GenerateRequest, emit func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-inbox:
			if !ok {
				return nil
			}

			started := time.Now()
			chunks := 0
			w.synth.Generate(req.Count, func(ev Event) {
				if ev.Kind == EventChunk {
					chunks++
				}
				emit(ev)
			})
			w.log.Debug("ChartData", "generation complete", map[string]interface{}{
				"requested": req.Count,
				"chunks":    chunks,
				"duration":  time.Since(started).String(),
			})
		}
	}
}
