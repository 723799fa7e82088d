package repository

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"dao-voting-sol/internal/cache"
	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/ledger"
	"dao-voting-sol/internal/logic/codec"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/logger"
	"dao-voting-sol/pkg/utils"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrProposalCountTooLarge DaoState 计数超过单次列表上限
	ErrProposalCountTooLarge = errors.New("proposal count exceeds list limit")
)

// DefaultMaxListCount ListProposals 单次最多读取的提案数
const DefaultMaxListCount = 10_000

// castVoteLog 投票交易中 Anchor 打印的指令名日志
const castVoteLog = "Instruction: CastVote"

// Repository 读侧：按派生地址读取并解码记录，可选读缓存
type Repository struct {
	ledger      ledger.Ledger
	program     types.Pubkey
	cache       cache.AccountCache
	concurrency int
	timeout     time.Duration
	maxList     uint64
}

type Option func(*Repository)

func WithCache(c cache.AccountCache) Option {
	return func(r *Repository) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithConcurrency 批量读取的最大并发数
func WithConcurrency(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithFetchTimeout 单次账户读取的超时
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.timeout = d
	}
}

// WithMaxListCount ListProposals 允许的最大 proposalCount
func WithMaxListCount(n uint64) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxList = n
		}
	}
}

func New(l ledger.Ledger, program types.Pubkey, opts ...Option) *Repository {
	r := &Repository{
		ledger:      l,
		program:     program,
		cache:       cache.Nop{},
		concurrency: consts.CpuCount * 2,
		maxList:     DefaultMaxListCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Program() types.Pubkey {
	return r.program
}

// fetch 先查缓存再查账本；不存在的账户不缓存
func (r *Repository) fetch(ctx context.Context, addr types.Pubkey) ([]byte, error) {
	if data, ok := r.cache.Get(ctx, addr); ok {
		return data, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	acct, err := r.ledger.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, addr, acct.Data)
	return acct.Data, nil
}

// Invalidate 写入成功后失效相关地址
func (r *Repository) Invalidate(ctx context.Context, addrs ...types.Pubkey) {
	r.cache.Delete(ctx, addrs...)
}

// FetchDaoState DAO 尚未初始化时返回 (nil, nil)
func (r *Repository) FetchDaoState(ctx context.Context) (*domain.DaoState, error) {
	addr, _, err := pda.DaoStateAddress(r.program)
	if err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch dao state: %w", err)
	}
	return codec.DecodeDaoState(data)
}

func (r *Repository) FetchProposal(ctx context.Context, id uint64) (*domain.Proposal, error) {
	addr, _, err := pda.ProposalAddress(r.program, id)
	if err != nil {
		return nil, err
	}
	return r.proposalAt(ctx, id, addr)
}

func (r *Repository) proposalAt(ctx context.Context, id uint64, addr types.Pubkey) (*domain.Proposal, error) {
	data, err := r.fetch(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("proposal %d (%s): %w", id, addr, ErrProposalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch proposal %d: %w", id, err)
	}
	p, err := codec.DecodeProposal(data)
	if err != nil {
		return nil, err
	}
	if p.ID != id {
		return nil, &codec.DecodeError{Record: "Proposal", Field: "id", Offset: 8,
			Err: fmt.Errorf("stored id %d at address derived for %d", p.ID, id)}
	}
	return p, nil
}

type proposalResult struct {
	proposal *domain.Proposal
	err      error
}

// ListProposals 读取 DaoState 的计数后并发读取 0..count-1。
// 不存在的 id（可见性延迟）与解码失败的记录被跳过，其它错误返回给调用方。
// 计数超过 maxList 时返回 ErrProposalCountTooLarge，不做任何读取。
func (r *Repository) ListProposals(ctx context.Context) ([]*domain.Proposal, error) {
	dao, err := r.FetchDaoState(ctx)
	if err != nil {
		return nil, err
	}
	if dao == nil || dao.ProposalCount == 0 {
		return []*domain.Proposal{}, nil
	}
	if dao.ProposalCount > r.maxList {
		return nil, fmt.Errorf("list proposals: count %d, limit %d: %w", dao.ProposalCount, r.maxList, ErrProposalCountTooLarge)
	}

	ids := make([]uint64, dao.ProposalCount)
	for i := range ids {
		ids[i] = uint64(i)
	}
	results := utils.ParallelMap(ids, r.concurrency, func(id uint64) (res proposalResult) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("[Repository] decode proposal %d panic: %v\n%s", id, rec, debug.Stack())
				res = proposalResult{err: &codec.DecodeError{Record: "Proposal", Err: fmt.Errorf("panic: %v", rec)}}
			}
		}()
		p, err := r.FetchProposal(ctx, id)
		return proposalResult{proposal: p, err: err}
	})

	out := make([]*domain.Proposal, 0, len(results))
	holes := 0
	for i, res := range results {
		switch {
		case res.err == nil:
			out = append(out, res.proposal)
		case errors.Is(res.err, ErrProposalNotFound):
			holes++
			logger.Debugf("[Repository] proposal %d 暂不可见，跳过", i)
		case codec.IsDecodeError(res.err):
			logger.Warnf("[Repository] proposal %d 解码失败，跳过: %v", i, res.err)
		default:
			return nil, res.err
		}
	}
	if holes > 0 {
		logger.Infof("[Repository] proposalCount=%d, 返回 %d 条, 缺失 %d 条", dao.ProposalCount, len(out), holes)
	}
	return out, nil
}

// FetchVoteRecord 未投票时返回 (nil, nil)
func (r *Repository) FetchVoteRecord(ctx context.Context, proposalID uint64, voter types.Pubkey) (*domain.VoteRecord, error) {
	propAddr, _, err := pda.ProposalAddress(r.program, proposalID)
	if err != nil {
		return nil, err
	}
	addr, _, err := pda.VoteRecordAddress(r.program, propAddr, voter)
	if err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch vote record %d/%s: %w", proposalID, voter, err)
	}
	return codec.DecodeVoteRecord(data)
}

// ProposalVoters 尽力而为的投票人对账：
// 提案地址的交易签名 → 日志含 CastVote 的成功交易 → 付费者 → VoteRecord。
func (r *Repository) ProposalVoters(ctx context.Context, proposalID uint64, limit int) ([]*domain.VoteRecord, error) {
	propAddr, _, err := pda.ProposalAddress(r.program, proposalID)
	if err != nil {
		return nil, err
	}
	sigs, err := r.ledger.SignaturesForAddress(ctx, propAddr, limit)
	if err != nil {
		return nil, fmt.Errorf("signatures for proposal %d: %w", proposalID, err)
	}

	candidates := make([]string, 0, len(sigs))
	for _, s := range sigs {
		if !s.Failed {
			candidates = append(candidates, s.Signature)
		}
	}
	payers := utils.ParallelMap(candidates, r.concurrency, func(sig string) *types.Pubkey {
		tx, err := r.ledger.GetTransaction(ctx, sig)
		if err != nil {
			logger.Warnf("[Repository] getTransaction %s 失败: %v", sig, err)
			return nil
		}
		if tx == nil || tx.Err != nil || !hasLog(tx.Logs, castVoteLog) {
			return nil
		}
		payer := tx.FeePayer
		return &payer
	})

	seen := make(map[types.Pubkey]struct{})
	var out []*domain.VoteRecord
	for _, p := range payers {
		if p == nil {
			continue
		}
		if _, dup := seen[*p]; dup {
			continue
		}
		seen[*p] = struct{}{}
		rec, err := r.FetchVoteRecord(ctx, proposalID, *p)
		if err != nil {
			logger.Warnf("[Repository] vote record %d/%s 读取失败: %v", proposalID, p, err)
			continue
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func hasLog(logs []string, needle string) bool {
	for _, l := range logs {
		if strings.Contains(l, needle) {
			return true
		}
	}
	return false
}
