package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/types"
)

var (
	// ErrAccountNotFound 地址上没有账户（未创建，或刚创建但当前节点尚不可见）
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrNetwork 传输层失败，调用方可重试
	ErrNetwork = errors.New("ledger: network error")
)

// Commitment 读取的确认级别
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	}
	return 0
}

// Reaches 当前级别是否已达到 want
func (c Commitment) Reaches(want Commitment) bool {
	return c.rank() >= want.rank() && c.rank() > 0
}

func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(s)
	if c.rank() == 0 {
		return "", fmt.Errorf("unknown commitment %q", s)
	}
	return c, nil
}

type AccountData struct {
	Address  types.Pubkey
	Owner    types.Pubkey
	Lamports uint64
	Data     []byte
}

// BlockRef 最近区块哈希及其有效期（区块高度上限）
type BlockRef struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// TxStatus 交易状态，Err 为链上返回的原始错误（nil 表示成功）
type TxStatus struct {
	Slot         uint64
	Confirmation Commitment
	Err          any
}

type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	Failed    bool
}

// TxSummary 已上链交易的摘要，活动对账只需要付费者与日志
type TxSummary struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	FeePayer  types.Pubkey
	Logs      []string
	Err       any
}

// Ledger 本客户端消费的账本 RPC 接口
type Ledger interface {
	// GetAccount 找不到时返回 ErrAccountNotFound
	GetAccount(ctx context.Context, addr types.Pubkey) (*AccountData, error)
	LatestBlockRef(ctx context.Context) (BlockRef, error)
	BlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error)
	// SignatureStatus 账本尚未见到该签名时返回 (nil, nil)
	SignatureStatus(ctx context.Context, signature string) (*TxStatus, error)
	// HistoricalSignatureStatus 与 SignatureStatus 相同，但同时查询历史账本
	HistoricalSignatureStatus(ctx context.Context, signature string) (*TxStatus, error)
	SignaturesForAddress(ctx context.Context, addr types.Pubkey, limit int) ([]SignatureInfo, error)
	// GetTransaction 找不到时返回 (nil, nil)
	GetTransaction(ctx context.Context, signature string) (*TxSummary, error)
}

// RPCError 账本 RPC 层返回的结构化错误，原样保留 Data 供上层透传
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	if e.Data == nil {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, data)
}

// Logs 预检失败时 data.logs 中的程序日志
func (e *RPCError) Logs() []string {
	m, ok := e.Data.(map[string]any)
	if !ok {
		return nil
	}
	switch raw := m["logs"].(type) {
	case []string:
		return raw
	case []any:
		logs := make([]string, 0, len(raw))
		for _, l := range raw {
			if s, ok := l.(string); ok {
				logs = append(logs, s)
			}
		}
		return logs
	}
	return nil
}

// DataErr 预检失败时 data.err 的原始值，例如 "AlreadyProcessed" 或 {"InstructionError": [...]}
func (e *RPCError) DataErr() any {
	m, ok := e.Data.(map[string]any)
	if !ok {
		return nil
	}
	return m["err"]
}

// RPC 错误码（JSON-RPC 自定义段）
const (
	CodeSendTransactionPreflightFailure = -32002
	CodeBlockhashNotFound               = -32008
)
