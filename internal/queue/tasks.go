package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/rendition/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessRenditions = "renditions:process"

// RenditionsPayload carries one trigger event through the queue. Attempt
// starts at 1 and grows with each subset retry of the same run. Settled
// holds what earlier attempts finished for good; Records only names the work
// still pending.
type RenditionsPayload struct {
	RunID       string             `json:"run_id"`
	Records     []domain.SourceRef `json:"records"`
	Attempt     int                `json:"attempt"`
	RequestedAt time.Time          `json:"requested_at"`
	Settled     []SettledSource    `json:"settled,omitempty"`
}

// SettledSource is one source's settled state across the attempts of a run:
// the labels that were published and the failures that will not be retried.
type SettledSource struct {
	Location  string           `json:"location"`
	Key       string           `json:"key"`
	Succeeded []string         `json:"succeeded,omitempty"`
	Failures  []domain.Failure `json:"failures,omitempty"`
}

// Status rolls one source up the same way a single attempt does: failed when
// the source never produced a rendition and failed fatally, partially_failed
// on any other failure.
func (s SettledSource) Status() string {
	if len(s.Failures) == 0 {
		return domain.StatusCompleted
	}
	if len(s.Succeeded) == 0 {
		for _, f := range s.Failures {
			if f.Fatal() {
				return domain.StatusFailed
			}
		}
	}
	return domain.StatusPartiallyFailed
}

// RunStatus is the overall status of a run: completed only when every
// source's every rendition succeeded, failed when every source failed.
func RunStatus(settled []SettledSource) string {
	failed := 0
	for _, s := range settled {
		switch s.Status() {
		case domain.StatusPartiallyFailed:
			return domain.StatusPartiallyFailed
		case domain.StatusFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return domain.StatusCompleted
	case failed == len(settled):
		return domain.StatusFailed
	default:
		return domain.StatusPartiallyFailed
	}
}

// SettledFailures flattens the failures of every settled source in order.
func SettledFailures(settled []SettledSource) []domain.Failure {
	var out []domain.Failure
	for _, s := range settled {
		out = append(out, s.Failures...)
	}
	return out
}

func (p RenditionsPayload) Event() domain.TriggerEvent {
	return domain.TriggerEvent{Records: p.Records}
}

func NewRenditionsTask(payload RenditionsPayload) (*asynq.Task, error) {
	if payload.Attempt < 1 {
		payload.Attempt = 1
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal renditions payload: %w", err)
	}
	return asynq.NewTask(TypeProcessRenditions, body), nil
}

func ParseRenditionsPayload(task *asynq.Task) (RenditionsPayload, error) {
	var payload RenditionsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenditionsPayload{}, fmt.Errorf("unmarshal renditions payload: %w", err)
	}
	if payload.RunID == "" {
		return RenditionsPayload{}, errors.New("renditions payload has no run_id")
	}
	if err := payload.Event().Validate(); err != nil {
		return RenditionsPayload{}, fmt.Errorf("renditions payload: %w", err)
	}
	if payload.Attempt < 1 {
		payload.Attempt = 1
	}
	return payload, nil
}
