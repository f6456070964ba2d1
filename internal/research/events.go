package research

import (
	"sync"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

// LogSink writes stage events to the structured logger
type LogSink struct {
	logger *internal.Logger
}

func NewLogSink(logger *internal.Logger) *LogSink {
	return &LogSink{logger: logger.With("Trace")}
}

func (s *LogSink) Emit(ev models.StageEvent) {
	s.logger.WithFields(map[string]interface{}{
		"task_id":    ev.TaskID.String(),
		"stage":      string(ev.Stage),
		"iteration":  ev.Iteration,
		"elapsed_ms": ev.ElapsedMs,
		"fetches":    ev.FetchCount,
		"dropped":    ev.DroppedCount,
	}).Info(ev.Message)
}

// MultiSink fans an event out to several sinks
type MultiSink []ports.TraceSink

func (m MultiSink) Emit(ev models.StageEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// RecordingSink keeps every event in memory
type RecordingSink struct {
	mu     sync.Mutex
	events []models.StageEvent
}

func (r *RecordingSink) Emit(ev models.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of what was recorded
func (r *RecordingSink) Events() []models.StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StageEvent(nil), r.events...)
}

// Stages returns the recorded stage names in order
func (r *RecordingSink) Stages() []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Stage, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Stage
	}
	return out
}
