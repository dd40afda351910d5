package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/llm"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

// AnalysisFailedMessage is the only error text the page ever shows.
const AnalysisFailedMessage = "Произошла ошибка при анализе. Попробуйте еще раз."

// Analyzer produces a verdict for a non-blank profession.
type Analyzer interface {
	AnalyzeProfession(ctx context.Context, profession string) (*models.AnalysisResult, error)
}

// Illustrator turns an image prompt into an illustration; it reports failure as ImageUnavailable.
type Illustrator interface {
	GenerateImage(ctx context.Context, prompt string) models.Illustration
}

// RunPublisher receives one event per finished run. May be nil to skip publishing.
type RunPublisher interface {
	PublishRun(ctx context.Context, ev models.RunEvent) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Analyzer    Analyzer
	Illustrator Illustrator
	Publisher   RunPublisher
}

// Session owns the UI state of one page and runs the analysis then illustration pipeline.
// Every run gets a sequence number; a run writes state only while its number is the latest.
type Session struct {
	id   uuid.UUID
	deps Deps
	base context.Context

	mu         sync.Mutex
	seq        uint64
	state      models.Snapshot
	lastActive time.Time
	subs       map[int]chan models.Snapshot
	nextSub    int
	running    int

	wg sync.WaitGroup
}

// NewSession returns an idle session. base bounds every run (cancelled on shutdown).
func NewSession(base context.Context, id uuid.UUID, deps Deps) *Session {
	return &Session{
		id:         id,
		deps:       deps,
		base:       base,
		state:      models.Snapshot{SessionID: id, Phase: models.PhaseIdle},
		lastActive: time.Now(),
		subs:       make(map[int]chan models.Snapshot),
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

// Submit starts a new run for text. Blank text is a no-op and returns false.
// A previous run is not cancelled; its later writes are discarded.
func (s *Session) Submit(text string) bool {
	profession := strings.TrimSpace(text)
	if profession == "" {
		return false
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.lastActive = time.Now()
	s.running++
	s.state = models.Snapshot{
		SessionID:  s.id,
		Seq:        seq,
		Profession: profession,
		Phase:      models.PhaseLoading,
		Loading:    true,
	}
	s.notifyLocked()
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.id.String()).
		Uint64("seq", seq).
		Msg("Pipeline run started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.runFinished()
		s.run(seq, profession)
	}()
	return true
}

func (s *Session) runFinished() {
	s.mu.Lock()
	s.running--
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Wait blocks until every started run has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) run(seq uint64, profession string) {
	started := time.Now()
	ctx := s.base

	result, err := s.deps.Analyzer.AnalyzeProfession(ctx, profession)
	if err != nil {
		kind := llm.ErrorKind(err)
		log.Error().Err(err).
			Str("session_id", s.id.String()).
			Uint64("seq", seq).
			Str("error_kind", kind).
			Msg("Profession analysis failed")
		applied := s.apply(seq, func(st *models.Snapshot) {
			st.Phase = models.PhaseFailed
			st.Loading = false
			st.Error = AnalysisFailedMessage
			st.Result = nil
			st.Illustration = nil
		})
		s.publish(models.RunEvent{
			SessionID:  s.id,
			Seq:        seq,
			Profession: profession,
			Outcome:    models.RunFailed,
			ErrorKind:  kind,
			Stale:      !applied,
			DurationMs: time.Since(started).Milliseconds(),
			OccurredAt: time.Now(),
		})
		return
	}

	if !s.apply(seq, func(st *models.Snapshot) {
		st.Result = result
		st.Illustration = &models.Illustration{Status: models.ImagePending}
	}) {
		// a newer run owns the state; its image would never be shown
		log.Debug().Str("session_id", s.id.String()).Uint64("seq", seq).Msg("Stale run, skipping illustration")
		s.publishSuccess(seq, profession, result, "", false, started)
		return
	}

	img := s.deps.Illustrator.GenerateImage(ctx, result.ImagePrompt)
	applied := s.apply(seq, func(st *models.Snapshot) {
		st.Phase = models.PhaseSuccess
		st.Loading = false
		st.Illustration = &img
	})
	s.publishSuccess(seq, profession, result, img.Status, applied, started)
}

// apply runs fn on the state if seq is still the latest run and notifies subscribers.
func (s *Session) apply(seq uint64, fn func(st *models.Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		log.Debug().
			Str("session_id", s.id.String()).
			Uint64("seq", seq).
			Uint64("latest_seq", s.seq).
			Msg("Dropping stale run update")
		return false
	}
	fn(&s.state)
	s.notifyLocked()
	return true
}

func (s *Session) publishSuccess(seq uint64, profession string, result *models.AnalysisResult, status models.ImageStatus, applied bool, started time.Time) {
	replaceable := result.Replaceable
	s.publish(models.RunEvent{
		SessionID:   s.id,
		Seq:         seq,
		Profession:  profession,
		Outcome:     models.RunSucceeded,
		Replaceable: &replaceable,
		ImageStatus: status,
		Stale:       !applied,
		DurationMs:  time.Since(started).Milliseconds(),
		OccurredAt:  time.Now(),
	})
}

func (s *Session) publish(ev models.RunEvent) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishRun(s.base, ev); err != nil {
		log.Warn().Err(err).
			Str("session_id", s.id.String()).
			Uint64("seq", ev.Seq).
			Msg("Failed to publish run event")
	}
}

// Subscribe returns a channel that receives the current state immediately and then every change.
// Slow readers miss intermediate states but always get the latest one. Call cancel to stop.
func (s *Session) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.lastActive = time.Now()
	ch <- s.copyStateLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// IdleSince reports the last activity time and whether the session is still in use
// (subscribed, or with a run in flight, stale runs included).
func (s *Session) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, len(s.subs) > 0 || s.running > 0
}

// closeSubscribers closes every subscriber channel.
func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// notifyLocked pushes the current state to every subscriber, replacing an unread older state.
func (s *Session) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.copyStateLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) copyStateLocked() models.Snapshot {
	snap := s.state
	if s.state.Illustration != nil {
		img := *s.state.Illustration
		snap.Illustration = &img
	}
	return snap
}
