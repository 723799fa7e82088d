package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/instruction"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/logic/repository"
	"dao-voting-sol/internal/logic/submitter"
	"dao-voting-sol/internal/mq"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/logger"
)

var (
	ErrNotInitialized     = errors.New("dao is not initialized")
	ErrAlreadyInitialized = errors.New("dao is already initialized")
	ErrAlreadyVoted       = errors.New("already voted on this proposal")
	ErrProposalNotActive  = errors.New("proposal is not active")
	ErrNotAuthority       = errors.New("signer is not the dao authority")
)

const publishTimeout = 5 * time.Second

// DaoService 在 QueryService 之上加入指令构造与提交，提供四个写操作
type DaoService struct {
	*QueryService
	builder   *instruction.Builder
	submitter *submitter.Submitter
	publisher mq.ActivityPublisher

	maxCreateAttempts int
}

type Option func(*DaoService)

func WithPublisher(p mq.ActivityPublisher) Option {
	return func(s *DaoService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMaxCreateAttempts CreateProposal 地址冲突时的最大尝试次数（含第一次）
func WithMaxCreateAttempts(n int) Option {
	return func(s *DaoService) {
		if n > 0 {
			s.maxCreateAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *DaoService) {
		s.now = now
	}
}

func NewDaoService(repo *repository.Repository, builder *instruction.Builder, sub *submitter.Submitter, opts ...Option) *DaoService {
	s := &DaoService{
		QueryService:      NewQueryService(repo),
		builder:           builder,
		submitter:         sub,
		publisher:         mq.NopPublisher{},
		maxCreateAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity 当前签名者
func (s *DaoService) Identity() types.Pubkey {
	return s.submitter.Identity()
}

func (s *DaoService) program() types.Pubkey {
	return s.builder.Program()
}

// Initialize 创建全局 DaoState，签名者成为管理员
func (s *DaoService) Initialize(ctx context.Context, name string) (*submitter.Result, error) {
	existing, err := s.repo.FetchDaoState(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyInitialized, existing.Name)
	}

	me := s.Identity()
	ix, err := s.builder.Initialize(me, name)
	if err != nil {
		return nil, err
	}
	daoAddr, _, err := pda.DaoStateAddress(s.program())
	if err != nil {
		return nil, err
	}
	res, err := s.submit(ctx, submitter.Draft{
		Label:        "initialize",
		Instructions: []sdktypes.Instruction{ix},
		Verify: func(ctx context.Context) (bool, error) {
			s.repo.Invalidate(ctx, daoAddr)
			state, err := s.repo.FetchDaoState(ctx)
			if err != nil || state == nil {
				return false, err
			}
			return state.Authority == me && state.Name == name, nil
		},
		Invalidate: []types.Pubkey{daoAddr},
	})
	if err != nil {
		return res, err
	}
	if res.Outcome == submitter.OutcomeRejected && errors.Is(res.Reason, submitter.ErrStructuralCollision) {
		return res, fmt.Errorf("%w: %w", ErrAlreadyInitialized, res.Reason)
	}
	return res, res.Err()
}

// CreateResult CreateProposal 的结果，ProposalID 为最终成功使用的 id
type CreateResult struct {
	*submitter.Result
	ProposalID uint64
	Address    types.Pubkey
	Attempts   int
}

// CreateProposal 读取计数 → 派生地址 → 提交。计数过期导致地址冲突时重新读取后重试
func (s *DaoService) CreateProposal(ctx context.Context, title, description string, votingDurationSeconds int64) (*CreateResult, error) {
	me := s.Identity()
	daoAddr, _, err := pda.DaoStateAddress(s.program())
	if err != nil {
		return nil, err
	}

	var last *CreateResult
	for attempt := 1; attempt <= s.maxCreateAttempts; attempt++ {
		// 每次都从账本重新读取计数
		s.repo.Invalidate(ctx, daoAddr)
		dao, err := s.repo.FetchDaoState(ctx)
		if err != nil {
			return last, err
		}
		if dao == nil {
			return last, ErrNotInitialized
		}

		id := dao.ProposalCount
		propAddr, _, err := pda.ProposalAddress(s.program(), id)
		if err != nil {
			return last, err
		}
		ix, err := s.builder.CreateProposal(me, id, title, description, votingDurationSeconds)
		if err != nil {
			return last, err
		}
		res, err := s.submit(ctx, submitter.Draft{
			Label:        fmt.Sprintf("create_proposal#%d", id),
			Instructions: []sdktypes.Instruction{ix},
			Verify: func(ctx context.Context) (bool, error) {
				s.repo.Invalidate(ctx, propAddr)
				p, err := s.repo.FetchProposal(ctx, id)
				if errors.Is(err, repository.ErrProposalNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return p.Creator == me && p.Title == title, nil
			},
			Invalidate: []types.Pubkey{daoAddr, propAddr},
		})
		if err != nil {
			return last, err
		}
		last = &CreateResult{Result: res, ProposalID: id, Address: propAddr, Attempts: attempt}

		if res.Outcome == submitter.OutcomeRejected && errors.Is(res.Reason, submitter.ErrStructuralCollision) {
			logger.Warnf("[DaoService] proposal %d 地址已被占用（计数已过期），第 %d/%d 次尝试", id, attempt, s.maxCreateAttempts)
			continue
		}
		if res.Outcome.Succeeded() {
			s.publish(&domain.ActivityEvent{
				Kind:       domain.ActivityProposalCreated,
				ProposalID: id,
				Proposal:   propAddr,
				Actor:      me,
				Signature:  res.Signature,
				Timestamp:  s.now().Unix(),
				Title:      title,
			})
		}
		return last, res.Err()
	}
	return last, fmt.Errorf("create proposal after %d attempts: %w", s.maxCreateAttempts, last.Reason)
}

// CastVote 本地先检查是否已投票；并发下由账本的地址唯一性兜底
func (s *DaoService) CastVote(ctx context.Context, proposalID uint64, choice domain.VoteChoice) (*submitter.Result, error) {
	me := s.Identity()
	p, err := s.repo.FetchProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrProposalNotActive, proposalID, p.Status)
	}
	existing, err := s.repo.FetchVoteRecord(ctx, proposalID, me)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: proposal %d, voted %s", ErrAlreadyVoted, proposalID, existing.Choice)
	}

	propAddr, _, err := pda.ProposalAddress(s.program(), proposalID)
	if err != nil {
		return nil, err
	}
	voteAddr, _, err := pda.VoteRecordAddress(s.program(), propAddr, me)
	if err != nil {
		return nil, err
	}
	ix, err := s.builder.CastVote(me, proposalID, choice)
	if err != nil {
		return nil, err
	}
	res, err := s.submit(ctx, submitter.Draft{
		Label:        fmt.Sprintf("cast_vote#%d", proposalID),
		Instructions: []sdktypes.Instruction{ix},
		Verify: func(ctx context.Context) (bool, error) {
			s.repo.Invalidate(ctx, voteAddr)
			rec, err := s.repo.FetchVoteRecord(ctx, proposalID, me)
			return rec != nil, err
		},
		Invalidate: []types.Pubkey{propAddr, voteAddr},
	})
	if err != nil {
		return res, err
	}
	if res.Outcome == submitter.OutcomeRejected && errors.Is(res.Reason, submitter.ErrStructuralCollision) {
		return res, fmt.Errorf("%w: proposal %d: %w", ErrAlreadyVoted, proposalID, res.Reason)
	}
	if res.Outcome.Succeeded() {
		s.publish(&domain.ActivityEvent{
			Kind:       domain.ActivityVoteCast,
			ProposalID: proposalID,
			Proposal:   propAddr,
			Actor:      me,
			Signature:  res.Signature,
			Timestamp:  s.now().Unix(),
			Choice:     choice,
		})
	}
	return res, res.Err()
}

// FinalizeProposal 仅管理员可调用，结果状态由链上按票数决定
func (s *DaoService) FinalizeProposal(ctx context.Context, proposalID uint64) (*submitter.Result, error) {
	me := s.Identity()
	dao, err := s.repo.FetchDaoState(ctx)
	if err != nil {
		return nil, err
	}
	if dao == nil {
		return nil, ErrNotInitialized
	}
	if dao.Authority != me {
		return nil, fmt.Errorf("%w: authority is %s", ErrNotAuthority, dao.Authority)
	}
	p, err := s.repo.FetchProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrProposalNotActive, proposalID, p.Status)
	}

	propAddr, _, err := pda.ProposalAddress(s.program(), proposalID)
	if err != nil {
		return nil, err
	}
	ix, err := s.builder.FinalizeProposal(me, proposalID)
	if err != nil {
		return nil, err
	}
	res, err := s.submit(ctx, submitter.Draft{
		Label:        fmt.Sprintf("finalize_proposal#%d", proposalID),
		Instructions: []sdktypes.Instruction{ix},
		Verify: func(ctx context.Context) (bool, error) {
			s.repo.Invalidate(ctx, propAddr)
			p, err := s.repo.FetchProposal(ctx, proposalID)
			if err != nil {
				return false, err
			}
			return p.Status != domain.StatusActive, nil
		},
		Invalidate: []types.Pubkey{propAddr},
	})
	if err != nil {
		return res, err
	}
	if res.Outcome.Succeeded() {
		// 结果以账本为准；Pending 时账本尚未追上，按提交前的票数推断
		status := domain.StatusRejected
		if fresh, err := s.repo.FetchProposal(ctx, proposalID); err == nil && fresh.Status != domain.StatusActive {
			status = fresh.Status
		} else if p.Passing() {
			status = domain.StatusPassed
		}
		s.publish(&domain.ActivityEvent{
			Kind:       domain.ActivityStatusChanged,
			ProposalID: proposalID,
			Proposal:   propAddr,
			Actor:      me,
			Signature:  res.Signature,
			Timestamp:  s.now().Unix(),
			Status:     status,
		})
	}
	return res, res.Err()
}

// submit 提交并执行结果中的缓存失效
func (s *DaoService) submit(ctx context.Context, draft submitter.Draft) (*submitter.Result, error) {
	res, err := s.submitter.Submit(ctx, draft)
	if err != nil {
		return nil, err
	}
	if len(res.Invalidate) > 0 {
		s.repo.Invalidate(ctx, res.Invalidate...)
	}
	logger.Infof("[DaoService] %s: %s sig=%s trail=%v", draft.Label, res.Outcome, res.Signature, res.Trail)
	return res, nil
}

// publish 尽力发布活动事件，失败只记录日志
func (s *DaoService) publish(ev *domain.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Warnf("[DaoService] 发布 %s 事件失败: %v", ev.Kind, err)
	}
}
