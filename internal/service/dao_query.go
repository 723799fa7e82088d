package service

import (
	"context"
	"sort"
	"time"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/repository"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/utils"
)

// QueryService 只读查询，不需要签名者
type QueryService struct {
	repo *repository.Repository
	now  func() time.Time
}

func NewQueryService(repo *repository.Repository) *QueryService {
	return &QueryService{repo: repo, now: time.Now}
}

func (s *QueryService) Repository() *repository.Repository {
	return s.repo
}

// HistoryEntry 某投票人在某提案上的投票
type HistoryEntry struct {
	Proposal *domain.Proposal
	Vote     *domain.VoteRecord
}

// VotingHistory 遍历所有提案查找 voter 的投票记录，按投票时间倒序
func (s *QueryService) VotingHistory(ctx context.Context, voter types.Pubkey) ([]HistoryEntry, error) {
	proposals, err := s.repo.ListProposals(ctx)
	if err != nil {
		return nil, err
	}

	type lookup struct {
		vote *domain.VoteRecord
		err  error
	}
	results := utils.ParallelMap(proposals, 8, func(p *domain.Proposal) lookup {
		v, err := s.repo.FetchVoteRecord(ctx, p.ID, voter)
		return lookup{vote: v, err: err}
	})

	var entries []HistoryEntry
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.vote != nil {
			entries = append(entries, HistoryEntry{Proposal: proposals[i], Vote: r.vote})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Vote.Timestamp != entries[j].Vote.Timestamp {
			return entries[i].Vote.Timestamp > entries[j].Vote.Timestamp
		}
		return entries[i].Proposal.ID > entries[j].Proposal.ID
	})
	return entries, nil
}

// Stats 提案汇总
type Stats struct {
	DaoName   string
	Authority types.Pubkey
	Total     int // 可读取到的提案数
	Active    int
	Passed    int
	Rejected  int
	Expired   int
	// AwaitingFinalize 仍为 active 但已过投票截止时间
	AwaitingFinalize int
	Votes            uint64
}

// ProposalStats 汇总所有提案的状态与票数
func (s *QueryService) ProposalStats(ctx context.Context) (*Stats, error) {
	dao, err := s.repo.FetchDaoState(ctx)
	if err != nil {
		return nil, err
	}
	if dao == nil {
		return nil, ErrNotInitialized
	}
	proposals, err := s.repo.ListProposals(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	st := &Stats{DaoName: dao.Name, Authority: dao.Authority, Total: len(proposals)}
	for _, p := range proposals {
		st.Votes += p.TotalVotes()
		switch p.Status {
		case domain.StatusActive:
			st.Active++
			if p.IsExpired(now) {
				st.AwaitingFinalize++
			}
		case domain.StatusPassed:
			st.Passed++
		case domain.StatusRejected:
			st.Rejected++
		case domain.StatusExpired:
			st.Expired++
		}
	}
	return st, nil
}

// ProposalVoters 提案的投票记录，来自地址的交易历史
func (s *QueryService) ProposalVoters(ctx context.Context, proposalID uint64, limit int) ([]*domain.VoteRecord, error) {
	return s.repo.ProposalVoters(ctx, proposalID, limit)
}
