package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"dao-voting-sol/internal/ledger"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/logger"
)

var errNotVisible = errors.New("effect not yet visible")

type Config struct {
	Commitment        ledger.Commitment
	PollInterval      time.Duration
	BroadcastRetries  int
	BroadcastBackoff  time.Duration
	ReconcileAttempts uint
	ReconcileDelay    time.Duration
}

func (c *Config) normalize() {
	if c.Commitment == "" {
		c.Commitment = ledger.CommitmentConfirmed
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BroadcastRetries < 0 {
		c.BroadcastRetries = 0
	}
	if c.BroadcastBackoff <= 0 {
		c.BroadcastBackoff = 200 * time.Millisecond
	}
	if c.ReconcileAttempts == 0 {
		c.ReconcileAttempts = 3
	}
	if c.ReconcileDelay <= 0 {
		c.ReconcileDelay = time.Second
	}
}

// Submitter 负责签名委托、广播、确认以及重复提交的对账
type Submitter struct {
	ledger ledger.Ledger
	signer Signer
	conf   Config
}

func New(l ledger.Ledger, signer Signer, conf Config) *Submitter {
	conf.normalize()
	return &Submitter{ledger: l, signer: signer, conf: conf}
}

// Identity 付费者 / 签名者身份
func (s *Submitter) Identity() types.Pubkey {
	return s.signer.PublicKey()
}

// Submit 执行 Draft → Signed → Broadcast → 终态。
// Rejected / Expired 通过 Result 返回；error 只表示网络、签名或 ctx 失败。
func (s *Submitter) Submit(ctx context.Context, draft Draft) (*Result, error) {
	if len(draft.Instructions) == 0 {
		return nil, fmt.Errorf("submit %s: no instructions", draft.Label)
	}
	res := &Result{Invalidate: draft.Invalidate}
	res.push(StateDraft)

	ref, err := s.ledger.LatestBlockRef(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit %s: latest blockhash: %w", draft.Label, err)
	}
	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        s.signer.PublicKey().ToSdk(),
		RecentBlockhash: ref.Blockhash,
		Instructions:    draft.Instructions,
	})
	tx, err := s.signer.SignTransaction(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", draft.Label, err)
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("submit %s: signer returned unsigned transaction", draft.Label)
	}
	res.Signature = base58.Encode(tx.Signatures[0])
	res.push(StateSigned)

	sig, err := s.broadcast(ctx, draft.Label, tx)
	res.push(StateBroadcast)
	if err != nil {
		if isDuplicate(err) {
			return s.reconcile(ctx, draft, res)
		}
		var rpcErr *ledger.RPCError
		if errors.As(err, &rpcErr) {
			return s.reject(draft, res, fromRPCError(rpcErr)), nil
		}
		return nil, fmt.Errorf("submit %s: broadcast %s: %w", draft.Label, res.Signature, err)
	}
	if sig != "" && sig != res.Signature {
		logger.Warnf("[Submitter] %s: 节点返回的签名 %s 与本地签名 %s 不一致", draft.Label, sig, res.Signature)
	}
	return s.confirm(ctx, draft, res, ref)
}

// broadcast 网络错误时重发同一笔已签名交易，由账本判断是否重复
func (s *Submitter) broadcast(ctx context.Context, label string, tx sdktypes.Transaction) (string, error) {
	send := s.ledger.SendTransaction
	if b, ok := s.signer.(Broadcaster); ok {
		send = b.SendTransaction
	}
	for attempt := 0; ; attempt++ {
		sig, err := send(ctx, tx)
		if err == nil || !errors.Is(err, ledger.ErrNetwork) || attempt >= s.conf.BroadcastRetries {
			return sig, err
		}
		logger.Warnf("[Submitter] %s: 第 %d 次广播失败，重发同一交易: %v", label, attempt+1, err)
		if err := sleepCtx(ctx, s.conf.BroadcastBackoff); err != nil {
			return "", err
		}
	}
}

// confirm 轮询签名状态，直到确认、链上失败或区块哈希过期
func (s *Submitter) confirm(ctx context.Context, draft Draft, res *Result, ref ledger.BlockRef) (*Result, error) {
	expired := false
	for {
		status := s.ledger.SignatureStatus
		if expired {
			status = s.ledger.HistoricalSignatureStatus
		}
		st, err := status(ctx, res.Signature)
		switch {
		case err != nil && !errors.Is(err, ledger.ErrNetwork):
			return nil, fmt.Errorf("submit %s: signature status: %w", draft.Label, err)
		case err != nil:
			logger.Warnf("[Submitter] %s: 查询签名状态失败: %v", draft.Label, err)
		case st != nil && st.Err != nil:
			return s.reject(draft, res, s.landedFailure(ctx, res.Signature, st.Err)), nil
		case st != nil && st.Confirmation.Reaches(s.conf.Commitment):
			res.push(StateConfirmed)
			res.Outcome = OutcomeConfirmed
			logger.Infof("[Submitter] %s: 已确认 %s (slot=%d)", draft.Label, res.Signature, st.Slot)
			return res, nil
		case st == nil && expired:
			res.push(StateExpired)
			res.Outcome = OutcomeExpired
			res.Reason = ErrExpired
			logger.Warnf("[Submitter] %s: 区块哈希已过期 (lastValid=%d)，交易 %s 未上链", draft.Label, ref.LastValidBlockHeight, res.Signature)
			return res, nil
		}

		// 过期后查历史账本再确认一次，避免错过过期前已落账但移出近期缓存的交易
		if !expired {
			h, err := s.ledger.BlockHeight(ctx)
			if err == nil && h > ref.LastValidBlockHeight {
				expired = true
				continue
			}
		}
		if err := sleepCtx(ctx, s.conf.PollInterval); err != nil {
			return nil, err
		}
	}
}

// reconcile 重复提交：以账本为准重新读取受影响记录，有限次重试
func (s *Submitter) reconcile(ctx context.Context, draft Draft, res *Result) (*Result, error) {
	res.push(StateDuplicateDetected)
	logger.Infof("[Submitter] %s: 交易 %s 已被处理过，开始对账", draft.Label, res.Signature)

	if draft.Verify == nil {
		res.push(StatePending)
		res.Outcome = OutcomePending
		return res, nil
	}

	visible := false
	action := func(attempt uint) error {
		ok, err := draft.Verify(ctx)
		if err != nil {
			logger.Warnf("[Submitter] %s: 第 %d 次对账读取失败: %v", draft.Label, attempt, err)
			return err
		}
		if !ok {
			return errNotVisible
		}
		visible = true
		return nil
	}
	alive := func(uint) bool { return ctx.Err() == nil }
	err := retry.Retry(action, strategy.Limit(s.conf.ReconcileAttempts), alive, strategy.Wait(s.conf.ReconcileDelay))

	if visible {
		res.push(StateReconciled)
		res.Outcome = OutcomeReconciled
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	logger.Warnf("[Submitter] %s: %d 次对账后仍不可见，按已确认待同步处理: %v", draft.Label, s.conf.ReconcileAttempts, err)
	res.push(StatePending)
	res.Outcome = OutcomePending
	return res, nil
}

func (s *Submitter) reject(draft Draft, res *Result, perr *ProgramError) *Result {
	res.push(StateRejected)
	res.Outcome = OutcomeRejected
	res.Reason = perr
	// 被拒绝的写入没有效果，无需失效缓存
	res.Invalidate = nil
	logger.Warnf("[Submitter] %s: 交易被拒绝: %v", draft.Label, perr)
	return res
}

// landedFailure 链上执行失败，尽力补充日志
func (s *Submitter) landedFailure(ctx context.Context, signature string, raw any) *ProgramError {
	var logs []string
	if tx, err := s.ledger.GetTransaction(ctx, signature); err == nil && tx != nil {
		logs = tx.Logs
	}
	return newProgramError(0, "transaction failed on ledger", raw, logs)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
