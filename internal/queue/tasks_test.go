package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/rendition/internal/domain"
	"github.com/hibiken/asynq"
)

func TestRenditionsTaskRoundTrip(t *testing.T) {
	payload := RenditionsPayload{
		RunID: "run-123",
		Records: []domain.SourceRef{
			{Location: "images-source-1", Key: "photos/sunset.png"},
			{Location: "images-source-1", Key: "photos/dawn.png", Labels: []string{"720p"}},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewRenditionsTask(payload)
	if err != nil {
		t.Fatalf("NewRenditionsTask returned error: %v", err)
	}
	if task.Type() != TypeProcessRenditions {
		t.Fatalf("expected task type %q, got %q", TypeProcessRenditions, task.Type())
	}

	parsed, err := ParseRenditionsPayload(task)
	if err != nil {
		t.Fatalf("ParseRenditionsPayload returned error: %v", err)
	}

	if parsed.RunID != payload.RunID {
		t.Fatalf("expected run_id %q, got %q", payload.RunID, parsed.RunID)
	}
	if parsed.Attempt != 1 {
		t.Fatalf("expected first attempt, got %d", parsed.Attempt)
	}
	if len(parsed.Records) != 2 || parsed.Records[1].Labels[0] != "720p" {
		t.Fatalf("expected records with labels preserved, got %+v", parsed.Records)
	}
}

func TestParseRenditionsPayloadRejectsEmptyEvents(t *testing.T) {
	cases := map[string][]byte{
		"not json":   []byte("{"),
		"no run id":  []byte(`{"records":[{"location":"b","key":"k"}]}`),
		"no records": []byte(`{"run_id":"r","records":[]}`),
		"blank key":  []byte(`{"run_id":"r","records":[{"location":"b","key":""}]}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRenditionsPayload(asynq.NewTask(TypeProcessRenditions, body)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	base := 10 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 0},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 3, want: 20 * time.Second},
		{attempt: 5, want: 80 * time.Second},
		{attempt: 6, want: 100 * time.Second},
		{attempt: 60, want: 100 * time.Second},
	}
	for _, tc := range tests {
		if got := RetryDelay(base, tc.attempt); got != tc.want {
			t.Fatalf("RetryDelay(%s, %d) = %s, want %s", base, tc.attempt, got, tc.want)
		}
	}
}

func TestTaskID(t *testing.T) {
	if got := TaskID("run-1", 3); got != "run-1-3" {
		t.Fatalf("unexpected task id %q", got)
	}
}

func TestRunStatus(t *testing.T) {
	decode := domain.Failure{Source: domain.SourceRef{Location: "b", Key: "a.png"}, Kind: domain.KindDecode, Error: "bad"}
	write := domain.Failure{Source: domain.SourceRef{Location: "b", Key: "c.png"}, Label: "720p", Kind: domain.KindWrite, Error: "denied"}

	cases := []struct {
		name    string
		settled []SettledSource
		want    string
	}{
		{"empty", nil, domain.StatusCompleted},
		{"all published", []SettledSource{{Key: "a.png", Succeeded: []string{"1080p", "720p"}}}, domain.StatusCompleted},
		{"one label failed", []SettledSource{{Key: "c.png", Succeeded: []string{"1080p"}, Failures: []domain.Failure{write}}}, domain.StatusPartiallyFailed},
		{"every source fatal", []SettledSource{{Key: "a.png", Failures: []domain.Failure{decode}}}, domain.StatusFailed},
		{"fatal next to success", []SettledSource{
			{Key: "a.png", Failures: []domain.Failure{decode}},
			{Key: "d.png", Succeeded: []string{"1080p"}},
		}, domain.StatusPartiallyFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RunStatus(tc.settled); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSettledSurvivesTaskRoundTrip(t *testing.T) {
	payload := RenditionsPayload{
		RunID:   "run-9",
		Records: []domain.SourceRef{{Location: "images-source-1", Key: "dawn.png", Labels: []string{"720p"}}},
		Attempt: 2,
		Settled: []SettledSource{{
			Location: "images-source-1",
			Key:      "sunset.png",
			Failures: []domain.Failure{{Source: domain.SourceRef{Location: "images-source-1", Key: "sunset.png"}, Kind: domain.KindDecode, Error: "bad"}},
		}},
	}
	task, err := NewRenditionsTask(payload)
	if err != nil {
		t.Fatalf("NewRenditionsTask returned error: %v", err)
	}
	parsed, err := ParseRenditionsPayload(task)
	if err != nil {
		t.Fatalf("ParseRenditionsPayload returned error: %v", err)
	}
	if len(parsed.Settled) != 1 || len(parsed.Settled[0].Failures) != 1 || parsed.Settled[0].Failures[0].Kind != domain.KindDecode {
		t.Fatalf("expected settled failures to survive the queue, got %+v", parsed.Settled)
	}
}
