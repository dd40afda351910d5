package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/aivsjobs/internal/llm"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

// fakeAnalyzer returns results per profession; a gate channel, when present, blocks the call until closed.
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*models.AnalysisResult
	errs    map[string]error
	gates   map[string]chan struct{}
}

func (f *fakeAnalyzer) AnalyzeProfession(ctx context.Context, profession string) (*models.AnalysisResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, profession)
	gate := f.gates[profession]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := f.errs[profession]; err != nil {
		return nil, err
	}
	if r, ok := f.results[profession]; ok {
		return r, nil
	}
	return &models.AnalysisResult{Replaceable: true, Explanation: "explanation " + profession, ImagePrompt: "prompt " + profession}, nil
}

func (f *fakeAnalyzer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeIllustrator returns a ready image unless unavailable is set; gate blocks every call until closed,
// gates blocks only calls for the given prompt.
type fakeIllustrator struct {
	mu          sync.Mutex
	prompts     []string
	unavailable bool
	gate        chan struct{}
	gates       map[string]chan struct{}
}

func (f *fakeIllustrator) GenerateImage(ctx context.Context, prompt string) models.Illustration {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	gate := f.gate
	promptGate := f.gates[prompt]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if promptGate != nil {
		<-promptGate
	}
	if f.unavailable {
		return models.Illustration{Status: models.ImageUnavailable}
	}
	return models.Illustration{Status: models.ImageReady, DataURI: "data:image/png;base64,QUJD"}
}

func (f *fakeIllustrator) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (f *fakePublisher) PublishRun(ctx context.Context, ev models.RunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Events() []models.RunEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RunEvent(nil), f.events...)
}

func newTestSession(a Analyzer, i Illustrator, p RunPublisher) *Session {
	return NewSession(context.Background(), uuid.New(), Deps{Analyzer: a, Illustrator: i, Publisher: p})
}

// waitFor reads snapshots until cond holds or the timeout expires.
func waitFor(t *testing.T, ch <-chan models.Snapshot, cond func(models.Snapshot) bool) models.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for state")
		}
	}
}

func TestSubmit_BlankIsNoop(t *testing.T) {
	a := &fakeAnalyzer{}
	i := &fakeIllustrator{}
	s := newTestSession(a, i, nil)
	before := s.Snapshot()

	for _, text := range []string{"", "   ", "\t\n"} {
		if s.Submit(text) {
			t.Errorf("Submit(%q) should be a no-op", text)
		}
	}
	s.Wait()

	if len(a.Calls()) != 0 || len(i.Prompts()) != 0 {
		t.Errorf("expected no calls, got analysis=%v image=%v", a.Calls(), i.Prompts())
	}
	if after := s.Snapshot(); after != before {
		t.Errorf("state changed: %+v -> %+v", before, after)
	}
	if before.Phase != models.PhaseIdle {
		t.Errorf("initial phase = %s", before.Phase)
	}
}

func TestSubmit_Success(t *testing.T) {
	a := &fakeAnalyzer{}
	i := &fakeIllustrator{}
	p := &fakePublisher{}
	s := newTestSession(a, i, p)

	if !s.Submit("  Дизайнер ") {
		t.Fatal("Submit returned false")
	}
	s.Wait()

	if calls := a.Calls(); len(calls) != 1 || calls[0] != "Дизайнер" {
		t.Errorf("analysis calls = %v", calls)
	}
	if prompts := i.Prompts(); len(prompts) != 1 || prompts[0] != "prompt Дизайнер" {
		t.Errorf("image prompts = %v", prompts)
	}

	snap := s.Snapshot()
	if snap.Phase != models.PhaseSuccess || snap.Loading {
		t.Errorf("phase=%s loading=%v", snap.Phase, snap.Loading)
	}
	if snap.Error != "" {
		t.Errorf("unexpected error %q", snap.Error)
	}
	if snap.Result == nil || snap.Result.Explanation != "explanation Дизайнер" {
		t.Errorf("result = %+v", snap.Result)
	}
	if snap.Illustration == nil || snap.Illustration.Status != models.ImageReady || snap.Illustration.DataURI == "" {
		t.Errorf("illustration = %+v", snap.Illustration)
	}
	if snap.Seq != 1 || snap.Profession != "Дизайнер" {
		t.Errorf("seq=%d profession=%q", snap.Seq, snap.Profession)
	}

	events := p.Events()
	if len(events) != 1 || events[0].Outcome != models.RunSucceeded || events[0].Stale {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Replaceable == nil || !*events[0].Replaceable || events[0].ImageStatus != models.ImageReady {
		t.Errorf("event = %+v", events[0])
	}
}

func TestSubmit_AnalysisFailure(t *testing.T) {
	causes := []error{
		errors.New("network down"),
		llm.ErrNoResponse,
		llm.ErrParse,
		llm.ErrSchemaMismatch,
	}
	for _, cause := range causes {
		t.Run(cause.Error(), func(t *testing.T) {
			a := &fakeAnalyzer{errs: map[string]error{"Врач": cause}}
			i := &fakeIllustrator{}
			p := &fakePublisher{}
			s := newTestSession(a, i, p)

			s.Submit("Врач")
			s.Wait()

			snap := s.Snapshot()
			if snap.Phase != models.PhaseFailed || snap.Loading {
				t.Errorf("phase=%s loading=%v", snap.Phase, snap.Loading)
			}
			if snap.Error != AnalysisFailedMessage {
				t.Errorf("error = %q", snap.Error)
			}
			if snap.Result != nil || snap.Illustration != nil {
				t.Errorf("expected no result panel, got %+v / %+v", snap.Result, snap.Illustration)
			}
			if len(i.Prompts()) != 0 {
				t.Errorf("image stage must not run, got %v", i.Prompts())
			}
			events := p.Events()
			if len(events) != 1 || events[0].Outcome != models.RunFailed || events[0].ErrorKind != llm.ErrorKind(cause) {
				t.Errorf("events = %+v", events)
			}
		})
	}
}

func TestSubmit_ImageUnavailable(t *testing.T) {
	a := &fakeAnalyzer{}
	i := &fakeIllustrator{unavailable: true}
	s := newTestSession(a, i, nil)

	s.Submit("Пекарь")
	s.Wait()

	snap := s.Snapshot()
	if snap.Phase != models.PhaseSuccess || snap.Error != "" {
		t.Errorf("phase=%s error=%q", snap.Phase, snap.Error)
	}
	if snap.Result == nil {
		t.Fatal("result panel must be shown")
	}
	if snap.Illustration == nil || snap.Illustration.Status != models.ImageUnavailable {
		t.Errorf("illustration = %+v", snap.Illustration)
	}
}

func TestSubmit_ResultShownWhileImagePending(t *testing.T) {
	a := &fakeAnalyzer{}
	i := &fakeIllustrator{gate: make(chan struct{})}
	s := newTestSession(a, i, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Submit("Юрист")

	pending := waitFor(t, ch, func(snap models.Snapshot) bool { return snap.Result != nil })
	if !pending.Loading || pending.Phase != models.PhaseLoading {
		t.Errorf("expected loading while image pending, got %+v", pending)
	}
	if pending.Illustration == nil || pending.Illustration.Status != models.ImagePending {
		t.Errorf("illustration = %+v", pending.Illustration)
	}

	close(i.gate)
	done := waitFor(t, ch, func(snap models.Snapshot) bool { return snap.Phase == models.PhaseSuccess })
	if done.Illustration.Status != models.ImageReady {
		t.Errorf("illustration = %+v", done.Illustration)
	}
	s.Wait()
}

func TestSubmit_ResetsPreviousResult(t *testing.T) {
	a := &fakeAnalyzer{gates: map[string]chan struct{}{"B": make(chan struct{})}}
	i := &fakeIllustrator{}
	s := newTestSession(a, i, nil)

	s.Submit("A")
	s.Wait()
	if s.Snapshot().Result == nil {
		t.Fatal("expected result for A")
	}

	s.Submit("B")
	snap := s.Snapshot()
	if snap.Result != nil || snap.Illustration != nil || snap.Error != "" || !snap.Loading {
		t.Errorf("new submit must clear previous state, got %+v", snap)
	}
	close(a.gates["B"])
	s.Wait()
}

func TestSubmit_StaleRunDoesNotOverwrite(t *testing.T) {
	a := &fakeAnalyzer{gates: map[string]chan struct{}{"A": make(chan struct{})}}
	i := &fakeIllustrator{}
	p := &fakePublisher{}
	s := newTestSession(a, i, p)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Submit("A")
	s.Submit("B")

	waitFor(t, ch, func(snap models.Snapshot) bool { return snap.Phase == models.PhaseSuccess })

	// A completes after B has already been displayed.
	close(a.gates["A"])
	s.Wait()

	snap := s.Snapshot()
	if snap.Profession != "B" || snap.Seq != 2 {
		t.Errorf("expected B's run to win, got profession=%q seq=%d", snap.Profession, snap.Seq)
	}
	if snap.Result == nil || snap.Result.Explanation != "explanation B" {
		t.Errorf("result = %+v", snap.Result)
	}
	if prompts := i.Prompts(); len(prompts) != 1 || prompts[0] != "prompt B" {
		t.Errorf("stale run must not request an image, got %v", prompts)
	}

	var stale int
	for _, ev := range p.Events() {
		if ev.Stale {
			stale++
			if ev.Seq != 1 {
				t.Errorf("stale event for seq %d", ev.Seq)
			}
		}
	}
	if stale != 1 {
		t.Errorf("expected one stale event, got %d (%+v)", stale, p.Events())
	}
}

func TestSubmit_StaleImageDoesNotOverwrite(t *testing.T) {
	imageA := make(chan struct{})
	i := &fakeIllustrator{gates: map[string]chan struct{}{"prompt A": imageA}}
	p := &fakePublisher{}
	s := newTestSession(&fakeAnalyzer{}, i, p)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Submit("A")
	waitFor(t, ch, func(snap models.Snapshot) bool {
		return snap.Profession == "A" && snap.Result != nil && snap.Illustration != nil &&
			snap.Illustration.Status == models.ImagePending
	})

	// A is now blocked on its image; B runs to completion first.
	s.Submit("B")
	waitFor(t, ch, func(snap models.Snapshot) bool {
		return snap.Profession == "B" && snap.Phase == models.PhaseSuccess
	})

	close(imageA)
	s.Wait()

	snap := s.Snapshot()
	if snap.Profession != "B" || snap.Seq != 2 || snap.Phase != models.PhaseSuccess {
		t.Errorf("expected B's run to win, got profession=%q seq=%d phase=%s", snap.Profession, snap.Seq, snap.Phase)
	}
	if snap.Result == nil || snap.Result.Explanation != "explanation B" {
		t.Errorf("result = %+v", snap.Result)
	}

	var stale []models.RunEvent
	for _, ev := range p.Events() {
		if ev.Stale {
			stale = append(stale, ev)
		}
	}
	if len(stale) != 1 {
		t.Fatalf("expected one stale event, got %+v", p.Events())
	}
	if stale[0].Seq != 1 || stale[0].Outcome != models.RunSucceeded || stale[0].ImageStatus != models.ImageReady {
		t.Errorf("stale event = %+v", stale[0])
	}
}

func TestSubmit_TrimsProfession(t *testing.T) {
	a := &fakeAnalyzer{}
	s := newTestSession(a, &fakeIllustrator{}, nil)

	s.Submit("  Бухгалтер\n")
	s.Wait()

	if calls := a.Calls(); len(calls) != 1 || calls[0] != "Бухгалтер" {
		t.Errorf("analyzer calls = %q", calls)
	}
	if p := s.Snapshot().Profession; p != "Бухгалтер" {
		t.Errorf("profession = %q", p)
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	s := newTestSession(&fakeAnalyzer{}, &fakeIllustrator{}, nil)
	ch, cancel := s.Subscribe()

	first := <-ch
	if first.Phase != models.PhaseIdle {
		t.Errorf("first snapshot phase = %s", first.Phase)
	}
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if _, subscribed := s.IdleSince(); subscribed {
		t.Error("session should have no subscribers")
	}
}
