package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/repository"
	"dao-voting-sol/pkg/logger"
)

// ChangeKind 轮询两次快照之间观察到的变化
type ChangeKind int

const (
	ChangeProposalAppeared ChangeKind = iota + 1
	ChangeVotesChanged
	ChangeStatusChanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeProposalAppeared:
		return "appeared"
	case ChangeVotesChanged:
		return "votes"
	case ChangeStatusChanged:
		return "status"
	}
	return fmt.Sprintf("change(%d)", int(k))
}

type Change struct {
	Kind     ChangeKind
	Previous *domain.Proposal // ChangeProposalAppeared 时为 nil
	Current  *domain.Proposal
}

// WatchService 周期性读取全部提案并报告变化，实现 go-zero service.Service
type WatchService struct {
	repo     *repository.Repository
	interval time.Duration
	onChange func(Change)

	stopChan chan struct{}
	ctx      context.Context
	cancel   func(err error)

	mu       sync.Mutex
	snapshot map[uint64]*domain.Proposal
}

func NewWatchService(repo *repository.Repository, interval time.Duration, onChange func(Change)) *WatchService {
	ctx, cancel := context.WithCancelCause(context.Background())
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if onChange == nil {
		onChange = func(Change) {}
	}
	return &WatchService{
		repo:     repo,
		interval: interval,
		onChange: onChange,
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *WatchService) Start() {
	if err := s.update(); err != nil {
		logger.Warnf("[WatchService] 初始快照失败: %v", err)
	}
	s.scheduleNext()
	<-s.stopChan
}

func (s *WatchService) scheduleNext() {
	time.AfterFunc(s.interval, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.update(); err != nil {
			logger.Warnf("[WatchService] 周期性更新失败: %v", err)
		}
		select {
		case <-s.ctx.Done():
			return
		default:
			s.scheduleNext()
		}
	})
}

func (s *WatchService) Stop() {
	s.cancel(errors.New("WatchService stop"))
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// update 读取一次快照并与上一次比较。第一次只建立基线
func (s *WatchService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[WatchService] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.interval+5*time.Second)
	defer cancel()
	proposals, err := s.repo.ListProposals(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.snapshot
	next := make(map[uint64]*domain.Proposal, len(proposals))
	for _, p := range proposals {
		next[p.ID] = p
	}
	s.snapshot = next
	s.mu.Unlock()

	if prev == nil {
		logger.Infof("[WatchService] 基线快照: %d 个提案", len(proposals))
		return nil
	}
	for _, c := range diffSnapshots(prev, proposals) {
		s.onChange(c)
	}
	return nil
}

// diffSnapshots 按 current 的顺序输出变化。读不到的旧提案不报告（可能只是暂时不可见）
func diffSnapshots(prev map[uint64]*domain.Proposal, current []*domain.Proposal) []Change {
	var changes []Change
	for _, p := range current {
		old, ok := prev[p.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeProposalAppeared, Current: p})
		case old.Status != p.Status:
			changes = append(changes, Change{Kind: ChangeStatusChanged, Previous: old, Current: p})
		case old.YesVotes != p.YesVotes || old.NoVotes != p.NoVotes || old.AbstainVotes != p.AbstainVotes:
			changes = append(changes, Change{Kind: ChangeVotesChanged, Previous: old, Current: p})
		}
	}
	return changes
}
