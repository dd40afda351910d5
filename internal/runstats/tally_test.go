package runstats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestTally_CountsAndFlush(t *testing.T) {
	tally := NewTally()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	events := []models.RunEvent{
		{SessionID: a, Seq: 1, Outcome: models.RunSucceeded, Replaceable: boolPtr(true), ImageStatus: models.ImageReady, DurationMs: 100},
		{SessionID: a, Seq: 2, Outcome: models.RunFailed, ErrorKind: "parse_error", DurationMs: 300},
		{SessionID: b, Seq: 1, Outcome: models.RunSucceeded, Replaceable: boolPtr(false), ImageStatus: models.ImageUnavailable, Stale: true, DurationMs: 200},
		// redelivery
		{SessionID: a, Seq: 1, Outcome: models.RunSucceeded, Replaceable: boolPtr(true), ImageStatus: models.ImageReady, DurationMs: 100},
	}
	for i := range events {
		if err := tally.HandleRun(ctx, &events[i]); err != nil {
			t.Fatalf("HandleRun: %v", err)
		}
	}

	s := tally.Flush()
	if s.Runs != 3 || s.Succeeded != 2 || s.Failed != 1 || s.Stale != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.Replaceable != 1 || s.NotReplaceable != 1 || s.ImagesReady != 1 || s.ImagesMissing != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.ErrorKinds["parse_error"] != 1 {
		t.Errorf("error kinds = %v", s.ErrorKinds)
	}
	if s.AvgDuration != 200*time.Millisecond {
		t.Errorf("avg duration = %v", s.AvgDuration)
	}

	if next := tally.Flush(); next.Runs != 0 || len(next.ErrorKinds) != 0 {
		t.Errorf("flush should reset, got %+v", next)
	}
}

func TestReport_NonPositiveInterval(t *testing.T) {
	tally := NewTally()
	for _, interval := range []time.Duration{0, -time.Minute} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			tally.Report(context.Background(), interval)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("Report(%v) should return immediately", interval)
		}
	}
}
