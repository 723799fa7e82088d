package submitter

import (
	"context"
	"fmt"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/types"
)

// State 提交流程中的状态
type State int

const (
	StateDraft State = iota
	StateSigned
	StateBroadcast
	StateConfirmed
	StateDuplicateDetected
	StateReconciled
	StatePending
	StateRejected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateSigned:
		return "signed"
	case StateBroadcast:
		return "broadcast"
	case StateConfirmed:
		return "confirmed"
	case StateDuplicateDetected:
		return "duplicate_detected"
	case StateReconciled:
		return "reconciled"
	case StatePending:
		return "pending"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateReconciled, StatePending, StateRejected, StateExpired:
		return true
	}
	return false
}

// Outcome 返回给调用方的最终结果
type Outcome int

const (
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeReconciled 重复提交，已从账本确认其效果
	OutcomeReconciled
	// OutcomePending 重复提交，但效果暂不可见（视为已确认，待账本追上）
	OutcomePending
	OutcomeRejected
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReconciled:
		return "reconciled"
	case OutcomePending:
		return "confirmed-pending"
	case OutcomeRejected:
		return "rejected"
	case OutcomeExpired:
		return "expired"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Succeeded 操作已生效（或已被账本接受）
func (o Outcome) Succeeded() bool {
	return o == OutcomeConfirmed || o == OutcomeReconciled || o == OutcomePending
}

// VerifyFunc 从账本重新读取并解码受影响的记录，返回效果是否可见
type VerifyFunc func(ctx context.Context) (bool, error)

// Draft 待提交的操作：指令已组装，尚未附加区块哈希
type Draft struct {
	Label        string
	Instructions []sdktypes.Instruction
	// Verify 重复提交时用于对账，可为空（此时直接视为 Pending）
	Verify VerifyFunc
	// Invalidate 成功后调用方需要失效的缓存地址
	Invalidate []types.Pubkey
}

// Result 一次提交的结果。缓存失效由调用方根据 Invalidate 执行
type Result struct {
	Outcome    Outcome
	Signature  string
	Trail      []State
	Reason     error
	Invalidate []types.Pubkey
}

func (r *Result) push(s State) {
	r.Trail = append(r.Trail, s)
}

func (r *Result) State() State {
	if len(r.Trail) == 0 {
		return StateDraft
	}
	return r.Trail[len(r.Trail)-1]
}

// Err Rejected / Expired 转为 error，其余返回 nil
func (r *Result) Err() error {
	switch r.Outcome {
	case OutcomeRejected:
		return r.Reason
	case OutcomeExpired:
		if r.Reason != nil {
			return r.Reason
		}
		return ErrExpired
	}
	return nil
}
