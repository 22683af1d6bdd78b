package ingestion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceos/docstack/internal/enum"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/utils"
)

// fakeStateRepo keeps the state row in memory
type fakeStateRepo struct {
	state  *models.IngestState
	getErr error
}

func (r *fakeStateRepo) GetState(ctx context.Context, mailbox string) (*models.IngestState, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.state, nil
}

func (r *fakeStateRepo) SaveState(ctx context.Context, state *models.IngestState) error {
	r.state = state
	return nil
}

// fakeRunner returns canned batch results in order
type fakeRunner struct {
	results []*BatchResult
	errs    []error
	calls   int
}

func (r *fakeRunner) Run(ctx context.Context, cursor *uint32) (*BatchResult, error) {
	idx := r.calls
	if idx >= len(r.results) {
		idx = len(r.results) - 1
	}
	r.calls++
	return r.results[idx], r.errs[idx]
}

func newScheduler(stateRepo *fakeStateRepo, runner *fakeRunner) *CycleScheduler {
	return NewCycleScheduler(stateRepo, runner, testIngestConfig(), "inbox", getLogger())
}

func TestCycleScheduler_CleanCycleResetsFailureState(t *testing.T) {
	stateRepo := &fakeStateRepo{
		state: &models.IngestState{
			Mailbox:   "inbox",
			Cursor:    utils.Uint32Ptr(10),
			Attempts:  2,
			LastError: utils.StringPtr("old error"),
		},
	}
	runner := &fakeRunner{
		results: []*BatchResult{{Processed: 1, NewCursor: utils.Uint32Ptr(12)}},
		errs:    []error{nil},
	}
	s := newScheduler(stateRepo, runner)

	result := s.RunCycle(context.Background())

	assert.Equal(t, enum.CycleStatusRan, result.Status)
	require.NotNil(t, result.After)
	assert.Equal(t, 0, result.After.Attempts)
	assert.Nil(t, result.After.NextRetryAt)
	assert.Nil(t, result.After.LastError)
	assert.Equal(t, uint32(12), *result.After.Cursor)
}

func TestCycleScheduler_FailureEntersBackoff(t *testing.T) {
	stateRepo := &fakeStateRepo{}
	runner := &fakeRunner{
		results: []*BatchResult{{}},
		errs:    []error{errors.New("imap unreachable")},
	}
	s := newScheduler(stateRepo, runner)

	result := s.RunCycle(context.Background())

	assert.Equal(t, enum.CycleStatusRan, result.Status)
	require.NotNil(t, result.After)
	assert.Equal(t, 1, result.After.Attempts)
	require.NotNil(t, result.After.NextRetryAt)
	require.NotNil(t, result.After.LastError)
	assert.Equal(t, "imap unreachable", *result.After.LastError)
}

func TestCycleScheduler_BackoffWindowSkipsWork(t *testing.T) {
	stateRepo := &fakeStateRepo{
		state: &models.IngestState{
			Mailbox:     "inbox",
			Attempts:    1,
			NextRetryAt: utils.TimePtr(utils.Now().Add(4 * time.Minute)),
		},
	}
	runner := &fakeRunner{results: []*BatchResult{{}}, errs: []error{nil}}
	s := newScheduler(stateRepo, runner)

	result := s.RunCycle(context.Background())

	assert.Equal(t, enum.CycleStatusBackoff, result.Status)
	assert.Equal(t, 0, runner.calls)
}

func TestCycleScheduler_ExpiredBackoffRetries(t *testing.T) {
	stateRepo := &fakeStateRepo{
		state: &models.IngestState{
			Mailbox:     "inbox",
			Attempts:    1,
			NextRetryAt: utils.TimePtr(utils.Now().Add(-time.Minute)),
		},
	}
	runner := &fakeRunner{
		results: []*BatchResult{{Processed: 1}},
		errs:    []error{nil},
	}
	s := newScheduler(stateRepo, runner)

	result := s.RunCycle(context.Background())

	assert.Equal(t, enum.CycleStatusRan, result.Status)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, result.After.Attempts)
}

func TestCycleScheduler_BackoffGrowsAndCaps(t *testing.T) {
	now := utils.Now()
	s := newScheduler(&fakeStateRepo{}, &fakeRunner{})

	expected := []time.Duration{
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		60 * time.Minute,
		60 * time.Minute, // capped
		60 * time.Minute,
	}

	state := (*models.IngestState)(nil)
	for i, wait := range expected {
		next := s.transition(state, &BatchResult{}, fmt.Errorf("failure %d", i), now)
		assert.Equal(t, i+1, next.Attempts)
		require.NotNil(t, next.NextRetryAt)
		assert.Equal(t, now.Add(wait), *next.NextRetryAt)
		state = next
	}
}

func TestCycleScheduler_MessageFailuresCountAsBatchFailure(t *testing.T) {
	// A batch with failed attachments and no infrastructure error still
	// moves the mailbox into backoff
	s := newScheduler(&fakeStateRepo{}, &fakeRunner{})

	next := s.transition(nil, &BatchResult{Failed: 2, Errors: []string{"upload failed"}}, nil, utils.Now())

	assert.Equal(t, 1, next.Attempts)
	require.NotNil(t, next.LastError)
	assert.Equal(t, "upload failed", *next.LastError)
}

func TestCycleScheduler_CursorNeverMovesBackwards(t *testing.T) {
	s := newScheduler(&fakeStateRepo{}, &fakeRunner{})
	state := &models.IngestState{Mailbox: "inbox", Cursor: utils.Uint32Ptr(20)}

	next := s.transition(state, &BatchResult{NewCursor: utils.Uint32Ptr(15)}, nil, utils.Now())

	assert.Equal(t, uint32(20), *next.Cursor)
}

func TestCycleScheduler_OverlappingCycleIsRefused(t *testing.T) {
	stateRepo := &fakeStateRepo{}
	runner := &fakeRunner{results: []*BatchResult{{}}, errs: []error{nil}}
	s := newScheduler(stateRepo, runner)

	s.mailboxLock("inbox").Lock()
	defer s.mailboxLock("inbox").Unlock()

	result := s.RunCycle(context.Background())

	assert.Equal(t, enum.CycleStatusLocked, result.Status)
	assert.Equal(t, 0, runner.calls)
	assert.Nil(t, result.After)
}

func TestCycleScheduler_SampleRingIsBounded(t *testing.T) {
	s := newScheduler(&fakeStateRepo{}, &fakeRunner{})

	var samples []MessageSample
	for i := 0; i < sampleRingSize+20; i++ {
		samples = append(samples, MessageSample{
			UID:  uint32(i),
			From: fmt.Sprintf("sender%d@example.com", i),
		})
	}
	s.recordSamples(samples)

	recent := s.RecentMessages()
	require.Len(t, recent, sampleRingSize)
	// Newest first
	assert.Equal(t, uint32(sampleRingSize+19), recent[0].UID)
}

func TestCycleScheduler_SamplesNormalizeSenders(t *testing.T) {
	s := newScheduler(&fakeStateRepo{}, &fakeRunner{})

	s.recordSamples([]MessageSample{{UID: 1, From: " Billing@Supplier.COM "}})

	recent := s.RecentMessages()
	require.Len(t, recent, 1)
	assert.Equal(t, "billing@supplier.com", recent[0].From)
}

func TestCycleScheduler_StatusSnapshot(t *testing.T) {
	stateRepo := &fakeStateRepo{
		state: &models.IngestState{Mailbox: "inbox", Cursor: utils.Uint32Ptr(42)},
	}
	s := newScheduler(stateRepo, &fakeRunner{})
	s.recordSamples([]MessageSample{{UID: 42, Outcome: "processed"}})

	snapshot, err := s.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "inbox", snapshot.Mailbox)
	require.NotNil(t, snapshot.State)
	assert.Equal(t, uint32(42), *snapshot.State.Cursor)
	require.Len(t, snapshot.RecentMessages, 1)
}
