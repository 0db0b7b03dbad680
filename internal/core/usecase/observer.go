package usecase

import (
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// Observer receives conversation and pipeline signals for metrics.
type Observer interface {
	EventProcessed(kind domain.EventKind, from domain.State, failed bool)
	StateChanged(from, to domain.State)
	PipelineStarted()
	PipelineFinished(status domain.RecordStatus, duration time.Duration)
	Apologized()
}

type noopObserver struct{}

func (noopObserver) EventProcessed(domain.EventKind, domain.State, bool) {}
func (noopObserver) StateChanged(domain.State, domain.State) {}
func (noopObserver) PipelineStarted() {}
func (noopObserver) PipelineFinished(domain.RecordStatus, time.Duration) {}
func (noopObserver) Apologized() {}
