// Package runstats aggregates run events published by the API into periodic summaries.
package runstats

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

// Summary is the tally of one reporting window.
type Summary struct {
	Runs           int
	Succeeded      int
	Failed         int
	Stale          int
	Replaceable    int
	NotReplaceable int
	ImagesReady    int
	ImagesMissing  int
	ErrorKinds     map[string]int
	AvgDuration    time.Duration
}

type runKey struct {
	session uuid.UUID
	seq     uint64
}

// Tally counts run events; it implements kafka.RunHandler.
// Redelivered events (same session and seq) within a window are counted once.
type Tally struct {
	mu         sync.Mutex
	cur        Summary
	durationMs int64
	seen       map[runKey]struct{}
}

func NewTally() *Tally {
	t := &Tally{}
	t.resetLocked()
	return t
}

func (t *Tally) resetLocked() {
	t.cur = Summary{ErrorKinds: map[string]int{}}
	t.durationMs = 0
	t.seen = map[runKey]struct{}{}
}

// HandleRun adds ev to the current window.
func (t *Tally) HandleRun(ctx context.Context, ev *models.RunEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := runKey{session: ev.SessionID, seq: ev.Seq}
	if _, dup := t.seen[key]; dup {
		return nil
	}
	t.seen[key] = struct{}{}

	t.cur.Runs++
	t.durationMs += ev.DurationMs
	if ev.Stale {
		t.cur.Stale++
	}
	switch ev.Outcome {
	case models.RunSucceeded:
		t.cur.Succeeded++
		if ev.Replaceable != nil {
			if *ev.Replaceable {
				t.cur.Replaceable++
			} else {
				t.cur.NotReplaceable++
			}
		}
		switch ev.ImageStatus {
		case models.ImageReady:
			t.cur.ImagesReady++
		case models.ImageUnavailable:
			t.cur.ImagesMissing++
		}
	case models.RunFailed:
		t.cur.Failed++
		if ev.ErrorKind != "" {
			t.cur.ErrorKinds[ev.ErrorKind]++
		}
	}
	return nil
}

// Flush returns the current window and starts a new one.
func (t *Tally) Flush() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.cur
	if s.Runs > 0 {
		s.AvgDuration = time.Duration(t.durationMs/int64(s.Runs)) * time.Millisecond
	}
	t.resetLocked()
	return s
}

// Report logs a summary every interval until ctx is cancelled; empty windows are not logged.
// A non-positive interval disables reporting.
func (t *Tally) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Warn().Dur("interval", interval).Msg("Run summary reporting disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := t.Flush()
			if s.Runs == 0 {
				continue
			}
			ev := log.Info().
				Int("runs", s.Runs).
				Int("succeeded", s.Succeeded).
				Int("failed", s.Failed).
				Int("stale", s.Stale).
				Int("replaceable", s.Replaceable).
				Int("not_replaceable", s.NotReplaceable).
				Int("images_ready", s.ImagesReady).
				Int("images_missing", s.ImagesMissing).
				Dur("avg_duration", s.AvgDuration)
			for kind, n := range s.ErrorKinds {
				ev = ev.Int("error_"+kind, n)
			}
			ev.Msg("Run summary")
		}
	}
}
