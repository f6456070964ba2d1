package ports

import "aletheia/models"

// TraceSink receives one event per orchestrator stage transition. Emit must not block.
type TraceSink interface {
	Emit(event models.StageEvent)
}

// TraceSinkFunc adapts a function to TraceSink
type TraceSinkFunc func(event models.StageEvent)

func (f TraceSinkFunc) Emit(event models.StageEvent) { f(event) }
