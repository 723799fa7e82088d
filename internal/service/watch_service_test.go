package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/repository"
	"dao-voting-sol/internal/logic/submitter"
)

func TestDiffSnapshots(t *testing.T) {
	prev := map[uint64]*domain.Proposal{
		0: {ID: 0, YesVotes: 1},
		1: {ID: 1},
		2: {ID: 2},
	}
	current := []*domain.Proposal{
		{ID: 0, YesVotes: 2},
		{ID: 1, Status: domain.StatusPassed},
		{ID: 3},
	}
	changes := diffSnapshots(prev, current)
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeVotesChanged, changes[0].Kind)
	assert.Equal(t, uint64(1), changes[0].Previous.YesVotes)
	assert.Equal(t, ChangeStatusChanged, changes[1].Kind)
	assert.Equal(t, ChangeProposalAppeared, changes[2].Kind)
	assert.Nil(t, changes[2].Previous)
}

func TestWatchServiceUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := seedProposals(t, f, 1)

	var (
		mu   sync.Mutex
		seen []Change
	)
	w := NewWatchService(repository.New(f.mem, f.program), time.Hour, func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	})
	defer w.Stop()

	require.NoError(t, w.update())
	assert.Empty(t, seen)

	voter, _ := f.service(nil, submitter.NewRandomSigner())
	_, err := voter.CastVote(ctx, 0, domain.ChoiceNo)
	require.NoError(t, err)
	_, err = admin.CreateProposal(ctx, "next", "", 60)
	require.NoError(t, err)

	require.NoError(t, w.update())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, ChangeVotesChanged, seen[0].Kind)
	assert.Equal(t, ChangeProposalAppeared, seen[1].Kind)
	assert.Equal(t, "next", seen[1].Current.Title)
}

func TestWatchServiceStartStop(t *testing.T) {
	f := newFixture(t)
	w := NewWatchService(repository.New(f.mem, f.program), 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
