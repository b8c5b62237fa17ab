package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"CollabFM/core/sanitize"
	"CollabFM/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t time.Time) *time.Time { return &t }

func TestMemoryFindDueOrdersAndLimits(t *testing.T) {
	store := NewMemoryStore(uuid.NewString)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.Put(&model.Collaboration{
			ID:                fmt.Sprintf("c%d", i),
			Status:            model.StatusSubmission,
			SubmissionCloseAt: at(base.Add(time.Duration(5-i) * time.Minute)),
		})
	}
	store.Put(&model.Collaboration{ID: "future", Status: model.StatusSubmission, SubmissionCloseAt: at(base.Add(time.Hour))})
	store.Put(&model.Collaboration{ID: "voting", Status: model.StatusVoting, SubmissionCloseAt: at(base)})
	store.Put(&model.Collaboration{ID: "no-close", Status: model.StatusSubmission})

	got, err := store.FindDue(context.Background(), DueQuery{
		Status:  model.StatusSubmission,
		Field:   DueSubmissionClose,
		Before:  base.Add(10 * time.Minute),
		Limit:   3,
		Exclude: []string{"c4"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 1, store.QueryCount())
}

func TestMemoryTransactionDiscardsOnError(t *testing.T) {
	store := NewMemoryStore(uuid.NewString)
	store.Put(&model.Collaboration{ID: "x", Status: model.StatusSubmission})

	boom := errors.New("boom")
	err := store.RunInTransaction(context.Background(), func(tx CollaborationTx) error {
		c, err := tx.Get("x")
		require.NoError(t, err)
		c.Status = model.StatusVoting
		require.NoError(t, tx.Save(c))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.StatusSubmission, store.Doc("x").Status)
	assert.Zero(t, store.SaveCount("x"))

	_, err = (&memoryTx{store: store, pending: map[string]*model.Collaboration{}}).Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCastVote(t *testing.T) {
	store := NewMemoryStore(uuid.NewString)
	ctx := context.Background()
	now := time.Now()
	store.Put(&model.Collaboration{ID: "open", Status: model.StatusVoting})
	store.Put(&model.Collaboration{ID: "closed", Status: model.StatusCompleted})

	require.NoError(t, store.CastVote(ctx, "open", 7, "takes/a.wav", now))
	require.NoError(t, store.CastVote(ctx, "open", 7, "takes/b.wav", now))
	require.NoError(t, store.CastVote(ctx, "open", 8, "takes/a.wav", now))
	assert.ErrorIs(t, store.CastVote(ctx, "closed", 7, "takes/a.wav", now), ErrVotingClosed)
	assert.ErrorIs(t, store.CastVote(ctx, "missing", 7, "takes/a.wav", now), ErrNotFound)

	var votes []string
	require.NoError(t, store.RunInTransaction(ctx, func(tx CollaborationTx) error {
		var err error
		votes, err = tx.FinalVotes("open")
		return err
	}))
	assert.ElementsMatch(t, []string{"takes/b.wav", "takes/a.wav"}, votes)
}

func TestProjectRepositorySanitizes(t *testing.T) {
	repo := NewMemoryProjectRepository(sanitize.New([]string{"damn"}), uuid.NewString)
	ctx := context.Background()

	p := &model.Project{Name: "Jam", Description: "a damn good groove"}
	require.NoError(t, repo.Create(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "a **** good groove", p.Description)

	p.Description = "Damn, again"
	require.NoError(t, repo.Update(ctx, p))
	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "****, again", stored.Description)

	assert.ErrorIs(t, repo.Update(ctx, &model.Project{ID: "nope"}), ErrNotFound)
}
