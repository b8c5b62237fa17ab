package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"CollabFM/model"
	"CollabFM/repository"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	reports []Report
	events  []model.StageEvent
}

func (r *recorder) RecordRun(ctx context.Context, report Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recorder) PublishStageChange(ctx context.Context, event model.StageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func ptr(t time.Time) *time.Time { return &t }

func newTestScheduler(store repository.CollaborationStore, opts ...Option) (*Scheduler, *clock.Mock, *recorder) {
	mock := clock.NewMock()
	mock.Set(baseTime)
	rec := &recorder{}
	opts = append([]Option{WithClock(mock), WithRecorder(rec), WithNotifier(rec)}, opts...)
	return NewScheduler(store, opts...), mock, rec
}

func vote(store *repository.MemoryStore, collaborationID string, userID int64, choice string) {
	store.PutVote(&model.UserCollaboration{
		ID:              uuid.NewString(),
		UserID:          userID,
		CollaborationID: collaborationID,
		FinalVote:       &choice,
	})
}

func TestSubmissionToVotingRunsOnce(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:                "X",
		Status:            model.StatusSubmission,
		SubmissionCloseAt: ptr(baseTime.Add(-time.Second)),
	})
	s, mock, rec := newTestScheduler(store)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SubmissionToVoting)
	assert.Equal(t, 1, report.Processed())

	x := store.Doc("X")
	assert.Equal(t, model.StatusVoting, x.Status)
	require.NotNil(t, x.VotingStartedAt)
	assert.True(t, x.VotingStartedAt.Equal(baseTime))
	assert.True(t, x.UpdatedAt.Equal(baseTime))

	mock.Add(time.Second)
	report, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed())

	assert.Equal(t, x, store.Doc("X"))
	assert.Equal(t, 1, store.SaveCount("X"))
	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatusVoting, rec.events[0].To)
	assert.Equal(t, 2, rec.runs())
}

func TestSubmissionNotYetDue(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:                "later",
		Status:            model.StatusSubmission,
		SubmissionCloseAt: ptr(baseTime.Add(time.Minute)),
	})
	store.Put(&model.Collaboration{ID: "open-ended", Status: model.StatusSubmission})
	s, _, _ := newTestScheduler(store)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed())
	assert.Equal(t, model.StatusSubmission, store.Doc("later").Status)
	assert.Equal(t, model.StatusSubmission, store.Doc("open-ended").Status)
}

func TestVotingToCompletedTallies(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:            "Y",
		Status:        model.StatusVoting,
		VotingCloseAt: ptr(baseTime.Add(-time.Second)),
	})
	vote(store, "Y", 1, "a")
	vote(store, "Y", 2, "b")
	vote(store, "Y", 3, "a")
	vote(store, "other", 4, "b")
	s, _, rec := newTestScheduler(store)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.VotingToCompleted)

	y := store.Doc("Y")
	assert.Equal(t, model.StatusCompleted, y.Status)
	assert.Equal(t, model.VoteResults{"a": 2, "b": 1}, y.Results)
	require.NotNil(t, y.WinnerPath)
	assert.Equal(t, "a", *y.WinnerPath)
	require.NotNil(t, y.ResultsComputedAt)
	assert.True(t, y.ResultsComputedAt.Equal(baseTime))
	assert.True(t, y.CompletedAt.Equal(baseTime))

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatusCompleted, rec.events[0].To)
	assert.Equal(t, "a", *rec.events[0].WinnerPath)
}

func TestVotingWithoutVotesHasNoWinner(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:            "quiet",
		Status:        model.StatusVoting,
		VotingCloseAt: ptr(baseTime.Add(-time.Hour)),
	})
	s, _, _ := newTestScheduler(store)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	quiet := store.Doc("quiet")
	assert.Equal(t, model.StatusCompleted, quiet.Status)
	assert.Nil(t, quiet.WinnerPath)
	assert.Empty(t, quiet.Results)
	assert.NotNil(t, quiet.ResultsComputedAt)
}

func TestAlreadyTalliedIsLeftAlone(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	winner := "x"
	computed := baseTime.Add(-time.Hour)
	store.Put(&model.Collaboration{
		ID:                "Z",
		Status:            model.StatusVoting,
		VotingCloseAt:     ptr(baseTime.Add(-2 * time.Hour)),
		ResultsComputedAt: &computed,
		Results:           model.VoteResults{"x": 1},
		WinnerPath:        &winner,
	})
	vote(store, "Z", 1, "y")
	vote(store, "Z", 2, "y")
	before := store.Doc("Z")
	s, _, _ := newTestScheduler(store)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed())
	assert.Equal(t, before, store.Doc("Z"))
	assert.Zero(t, store.SaveCount("Z"))
}

func TestSubmissionBacklogIsPaged(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	for i := 0; i < 250; i++ {
		store.Put(&model.Collaboration{
			ID:                fmt.Sprintf("c%03d", i),
			Status:            model.StatusSubmission,
			SubmissionCloseAt: ptr(baseTime.Add(-time.Duration(i+1) * time.Second)),
		})
	}
	s, _, _ := newTestScheduler(store)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, report.SubmissionToVoting)
	// 两页提交查询 + 一次空的投票查询
	assert.Equal(t, 3, store.QueryCount())

	for i := 0; i < 250; i++ {
		assert.Equal(t, model.StatusVoting, store.Doc(fmt.Sprintf("c%03d", i)).Status)
	}
}

func TestDocumentFailureDoesNotStopPass(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	for i, id := range []string{"bad", "d1", "d2"} {
		store.Put(&model.Collaboration{
			ID:                id,
			Status:            model.StatusSubmission,
			SubmissionCloseAt: ptr(baseTime.Add(-time.Duration(10-i) * time.Minute)),
		})
	}
	store.FailTx = func(id string) error {
		if id == "bad" {
			return errors.New("deadlock found")
		}
		return nil
	}
	s, _, _ := newTestScheduler(store, WithPageSizes(2, 2))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.SubmissionToVoting)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, model.StatusSubmission, store.Doc("bad").Status)
	assert.Equal(t, model.StatusVoting, store.Doc("d1").Status)
	assert.Equal(t, model.StatusVoting, store.Doc("d2").Status)
}

func TestVotingQueryFailureIsReturned(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:                "X",
		Status:            model.StatusSubmission,
		SubmissionCloseAt: ptr(baseTime.Add(-time.Second)),
	})
	unavailable := errors.New("connection refused")
	store.FailQuery = func(q repository.DueQuery) error {
		if q.Status == model.StatusVoting {
			return unavailable
		}
		return nil
	}
	s, _, rec := newTestScheduler(store)

	report, err := s.Run(context.Background())
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, 1, report.SubmissionToVoting)
	assert.Equal(t, 1, rec.runs())
}

func TestSubmissionQueryFailureStillCompletesVoting(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{
		ID:                "early",
		Status:            model.StatusSubmission,
		SubmissionCloseAt: ptr(baseTime.Add(-time.Second)),
	})
	store.Put(&model.Collaboration{
		ID:            "closing",
		Status:        model.StatusVoting,
		VotingCloseAt: ptr(baseTime.Add(-time.Second)),
	})
	vote(store, "closing", 1, "uploads/a.mp3")
	unavailable := errors.New("connection refused")
	store.FailQuery = func(q repository.DueQuery) error {
		if q.Status == model.StatusSubmission {
			return unavailable
		}
		return nil
	}
	s, _, rec := newTestScheduler(store)

	report, err := s.Run(context.Background())
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, 0, report.SubmissionToVoting)
	assert.Equal(t, 1, report.VotingToCompleted)
	assert.Equal(t, model.StatusSubmission, store.Doc("early").Status)
	assert.Equal(t, model.StatusCompleted, store.Doc("closing").Status)
	assert.Equal(t, 1, rec.runs())
}

func TestBothQueryFailuresAreReported(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	submissionDown := errors.New("submission index unavailable")
	votingDown := errors.New("voting index unavailable")
	store.FailQuery = func(q repository.DueQuery) error {
		if q.Status == model.StatusSubmission {
			return submissionDown
		}
		return votingDown
	}
	s, _, _ := newTestScheduler(store)

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, submissionDown)
	assert.ErrorIs(t, err, votingDown)
}

func TestOverlappingRunsTallyOnce(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("v%02d", i)
		store.Put(&model.Collaboration{
			ID:            id,
			Status:        model.StatusVoting,
			VotingCloseAt: ptr(baseTime.Add(-time.Minute)),
		})
		vote(store, id, 1, "a")
	}
	s, _, _ := newTestScheduler(store, WithPageSizes(5, 5))

	var wg sync.WaitGroup
	totals := make([]int, 3)
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := s.Run(context.Background())
			assert.NoError(t, err)
			totals[i] = report.VotingToCompleted
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, totals[0]+totals[1]+totals[2])
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, store.SaveCount(fmt.Sprintf("v%02d", i)))
	}
}

func TestLoopRunsOnInterval(t *testing.T) {
	store := repository.NewMemoryStore(uuid.NewString)
	s, mock, rec := newTestScheduler(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Loop(ctx, time.Minute)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rec.runs() == 1 }, time.Second, 5*time.Millisecond)
	mock.Add(time.Minute)
	assert.Eventually(t, func() bool { return rec.runs() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
