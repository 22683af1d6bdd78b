package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/enum"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

// backoffTable maps consecutive failures to the wait before the next
// attempt. Attempts beyond the table stay at the last interval.
var backoffTable = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// batchRunner is the slice of BatchProcessor the scheduler depends on
type batchRunner interface {
	Run(ctx context.Context, cursor *uint32) (*BatchResult, error)
}

// CycleResult reports what one scheduler cycle did. Locked and backoff
// cycles perform no mailbox work at all.
type CycleResult struct {
	CycleID string              `json:"cycleId"`
	Mailbox string              `json:"mailbox"`
	Status  enum.CycleStatus    `json:"status"`
	Before  *models.IngestState `json:"before,omitempty"`
	After   *models.IngestState `json:"after,omitempty"`
	Batch   *BatchResult        `json:"-"`
	Error   string              `json:"error,omitempty"`
}

// StatusSnapshot is the read-only view served by the status endpoint
type StatusSnapshot struct {
	Mailbox        string              `json:"mailbox"`
	State          *models.IngestState `json:"state"`
	RecentMessages []MessageSample     `json:"recentMessages"`
	GeneratedAt    time.Time           `json:"generatedAt"`
}

// CycleScheduler drives the ingestion state machine for one mailbox:
// Idle cycles run a batch; failed batches move the mailbox into Backoff
// with escalating waits; a cycle that lands inside the retry window is a
// no-op. Overlapping cycles are refused with a per-mailbox try-lock.
type CycleScheduler struct {
	stateRepo interfaces.IngestStateRepository
	processor batchRunner
	cfg       *config.IngestConfig
	mailbox   string
	log       logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	samplesMu sync.Mutex
	samples   []MessageSample
}

const sampleRingSize = 50

func NewCycleScheduler(stateRepo interfaces.IngestStateRepository, processor batchRunner, cfg *config.IngestConfig, mailbox string, log logger.Logger) *CycleScheduler {
	return &CycleScheduler{
		stateRepo: stateRepo,
		processor: processor,
		cfg:       cfg,
		mailbox:   mailbox,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// RunCycle executes one scheduling decision for the mailbox. It never
// returns an error; failures are folded into the state transition.
func (s *CycleScheduler) RunCycle(ctx context.Context) *CycleResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CycleScheduler.RunCycle")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, s.mailbox)

	result := &CycleResult{
		CycleID: uuid.New().String(),
		Mailbox: s.mailbox,
	}
	span.SetTag("cycle.id", result.CycleID)

	lock := s.mailboxLock(s.mailbox)
	if !lock.TryLock() {
		// A previous cycle is still running; skipping beats queueing
		result.Status = enum.CycleStatusLocked
		s.log.Infof("[%s] Cycle %s skipped, previous cycle still running", s.mailbox, result.CycleID)
		return result
	}
	defer lock.Unlock()

	state, err := s.stateRepo.GetState(ctx, s.mailbox)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Status = enum.CycleStatusRan
		result.Error = err.Error()
		s.log.Errorf("[%s] Cycle %s could not load state: %v", s.mailbox, result.CycleID, err)
		return result
	}
	result.Before = cloneState(state)

	now := utils.Now()
	if state != nil && state.Backoff(now) {
		result.Status = enum.CycleStatusBackoff
		result.After = result.Before
		s.log.Infof("[%s] Cycle %s in backoff until %s (attempt %d)",
			s.mailbox, result.CycleID, state.NextRetryAt.Format(time.RFC3339), state.Attempts)
		return result
	}

	var cursor *uint32
	attempts := 0
	if state != nil {
		cursor = state.Cursor
		attempts = state.Attempts
	}
	if s.cfg.MaxCycleFailures > 0 && attempts >= s.cfg.MaxCycleFailures {
		s.log.Warnf("[%s] Cycle %s running despite %d consecutive failures", s.mailbox, result.CycleID, attempts)
	}

	batch, runErr := s.processor.Run(ctx, cursor)
	result.Status = enum.CycleStatusRan
	result.Batch = batch
	if runErr != nil {
		result.Error = runErr.Error()
	}
	s.recordSamples(batch.Samples)

	next := s.transition(state, batch, runErr, now)
	if err := s.stateRepo.SaveState(ctx, next); err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("[%s] Cycle %s failed to persist state: %v", s.mailbox, result.CycleID, err)
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	result.After = cloneState(next)

	s.log.Infof("[%s] Cycle %s done: attempted=%d processed=%d skipped=%d failed=%d attempts=%d",
		s.mailbox, result.CycleID, batch.Attempted, batch.Processed, batch.Skipped, batch.Failed, next.Attempts)
	return result
}

// transition applies the state-machine rules: a clean batch resets the
// failure counter and clears the retry window; anything else escalates
// the backoff. The cursor only ever moves forward.
func (s *CycleScheduler) transition(state *models.IngestState, batch *BatchResult, runErr error, now time.Time) *models.IngestState {
	next := &models.IngestState{Mailbox: s.mailbox}
	if state != nil {
		*next = *state
	}

	if batch.NewCursor != nil {
		if next.Cursor == nil || *batch.NewCursor > *next.Cursor {
			next.Cursor = batch.NewCursor
		}
	}

	if runErr == nil && batch.Failed == 0 {
		next.Attempts = 0
		next.NextRetryAt = nil
		next.LastError = nil
		return next
	}

	next.Attempts++
	wait := backoffTable[len(backoffTable)-1]
	if next.Attempts-1 < len(backoffTable) {
		wait = backoffTable[next.Attempts-1]
	}
	next.NextRetryAt = utils.TimePtr(now.Add(wait))

	switch {
	case runErr != nil:
		next.LastError = utils.StringPtr(runErr.Error())
	case len(batch.Errors) > 0:
		next.LastError = utils.StringPtr(batch.Errors[0])
	}
	return next
}

// Status returns the current state row plus the in-memory sample ring
func (s *CycleScheduler) Status(ctx context.Context) (*StatusSnapshot, error) {
	state, err := s.stateRepo.GetState(ctx, s.mailbox)
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		Mailbox:        s.mailbox,
		State:          state,
		RecentMessages: s.RecentMessages(),
		GeneratedAt:    utils.Now(),
	}, nil
}

// RecentMessages returns the newest samples first
func (s *CycleScheduler) RecentMessages() []MessageSample {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()

	out := make([]MessageSample, len(s.samples))
	for i, sample := range s.samples {
		out[len(s.samples)-1-i] = sample
	}
	return out
}

// recordSamples appends to the bounded ring, normalizing sender addresses
// so the status surface shows clean emails rather than raw header values
func (s *CycleScheduler) recordSamples(samples []MessageSample) {
	if len(samples) == 0 {
		return
	}

	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()

	for _, sample := range samples {
		if sample.From != "" {
			if syntax := mailvalidate.ValidateEmailSyntax(sample.From); syntax.IsValid {
				sample.From = syntax.CleanEmail
			}
		}
		s.samples = append(s.samples, sample)
	}
	if len(s.samples) > sampleRingSize {
		s.samples = s.samples[len(s.samples)-sampleRingSize:]
	}
}

func (s *CycleScheduler) mailboxLock(mailbox string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if _, ok := s.locks[mailbox]; !ok {
		s.locks[mailbox] = &sync.Mutex{}
	}
	return s.locks[mailbox]
}

func cloneState(state *models.IngestState) *models.IngestState {
	if state == nil {
		return nil
	}
	copied := *state
	return &copied
}
