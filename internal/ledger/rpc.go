package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/types"
)

// RPCLedger 基于 solana-go-sdk JSON-RPC 客户端的 Ledger 实现
type RPCLedger struct {
	client     *client.Client
	commitment Commitment
	maxRetries uint64
}

type RPCOption func(*RPCLedger)

// WithNodeRetries 节点侧的转发重试次数（sendTransaction.maxRetries）
func WithNodeRetries(n uint64) RPCOption {
	return func(l *RPCLedger) {
		l.maxRetries = n
	}
}

func NewRPCLedger(endpoint string, commitment Commitment, opts ...RPCOption) *RPCLedger {
	l := &RPCLedger{
		client:     client.NewClient(endpoint),
		commitment: commitment,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RPCLedger) Commitment() Commitment {
	return l.commitment
}

func (l *RPCLedger) GetAccount(ctx context.Context, addr types.Pubkey) (*AccountData, error) {
	info, err := l.client.GetAccountInfoWithConfig(ctx, addr.String(), client.GetAccountInfoConfig{
		Commitment: rpc.Commitment(l.commitment),
	})
	if err != nil {
		return nil, wrapRPC(ctx, "getAccountInfo", err)
	}
	// SDK 对不存在的账户返回零值
	if info.Owner == (common.PublicKey{}) && len(info.Data) == 0 && info.Lamports == 0 {
		return nil, ErrAccountNotFound
	}
	return &AccountData{
		Address:  addr,
		Owner:    types.PubkeyFromSdk(info.Owner),
		Lamports: info.Lamports,
		Data:     info.Data,
	}, nil
}

func (l *RPCLedger) LatestBlockRef(ctx context.Context) (BlockRef, error) {
	res, err := l.client.GetLatestBlockhash(ctx)
	if err != nil {
		return BlockRef{}, wrapRPC(ctx, "getLatestBlockhash", err)
	}
	return BlockRef{Blockhash: res.Blockhash, LastValidBlockHeight: res.LatestValidBlockHeight}, nil
}

func (l *RPCLedger) BlockHeight(ctx context.Context) (uint64, error) {
	res, err := l.client.RpcClient.GetBlockHeightWithConfig(ctx, rpc.GetBlockHeightConfig{
		Commitment: rpc.Commitment(l.commitment),
	})
	if err != nil {
		return 0, wrapRPC(ctx, "getBlockHeight", err)
	}
	if res.Error != nil {
		return 0, wrapRPC(ctx, "getBlockHeight", res.Error)
	}
	return res.Result, nil
}

func (l *RPCLedger) SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error) {
	sig, err := l.client.SendTransactionWithConfig(ctx, tx, client.SendTransactionConfig{
		PreflightCommitment: rpc.Commitment(l.commitment),
		MaxRetries:          l.maxRetries,
	})
	if err != nil {
		return "", wrapRPC(ctx, "sendTransaction", err)
	}
	return sig, nil
}

func (l *RPCLedger) SignatureStatus(ctx context.Context, signature string) (*TxStatus, error) {
	return l.signatureStatus(ctx, signature, false)
}

// HistoricalSignatureStatus 同时查询节点的历史账本，覆盖已移出近期状态缓存的签名
func (l *RPCLedger) HistoricalSignatureStatus(ctx context.Context, signature string) (*TxStatus, error) {
	return l.signatureStatus(ctx, signature, true)
}

func (l *RPCLedger) signatureStatus(ctx context.Context, signature string, searchHistory bool) (*TxStatus, error) {
	st, err := l.client.GetSignatureStatusWithConfig(ctx, signature, client.GetSignatureStatusesConfig{
		SearchTransactionHistory: searchHistory,
	})
	if err != nil {
		return nil, wrapRPC(ctx, "getSignatureStatuses", err)
	}
	if st == nil {
		return nil, nil
	}
	out := &TxStatus{Slot: st.Slot, Err: st.Err}
	if st.ConfirmationStatus != nil {
		out.Confirmation = Commitment(*st.ConfirmationStatus)
	} else {
		// 旧节点不返回 confirmationStatus，confirmations 为 nil 即已 finalized
		out.Confirmation = CommitmentFinalized
		if st.Confirmations != nil {
			out.Confirmation = CommitmentConfirmed
		}
	}
	return out, nil
}

func (l *RPCLedger) SignaturesForAddress(ctx context.Context, addr types.Pubkey, limit int) ([]SignatureInfo, error) {
	res, err := l.client.GetSignaturesForAddressWithConfig(ctx, addr.String(), client.GetSignaturesForAddressConfig{
		Limit:      limit,
		Commitment: rpc.Commitment(l.commitment),
	})
	if err != nil {
		return nil, wrapRPC(ctx, "getSignaturesForAddress", err)
	}
	out := make([]SignatureInfo, 0, len(res))
	for _, s := range res {
		out = append(out, SignatureInfo{
			Signature: s.Signature,
			Slot:      s.Slot,
			BlockTime: s.BlockTime,
			Failed:    s.Err != nil,
		})
	}
	return out, nil
}

func (l *RPCLedger) GetTransaction(ctx context.Context, signature string) (*TxSummary, error) {
	tx, err := l.client.GetTransaction(ctx, signature)
	if err != nil {
		return nil, wrapRPC(ctx, "getTransaction", err)
	}
	if tx == nil {
		return nil, nil
	}
	out := &TxSummary{
		Signature: signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
	}
	if len(tx.Transaction.Message.Accounts) > 0 {
		out.FeePayer = types.PubkeyFromSdk(tx.Transaction.Message.Accounts[0])
	}
	if tx.Meta != nil {
		out.Logs = tx.Meta.LogMessages
		out.Err = tx.Meta.Err
	}
	return out, nil
}

// wrapRPC 将 SDK 错误规整为 *RPCError 或 ErrNetwork，上层不再依赖 SDK 的错误类型。
// SDK 以 %v 拼接传输错误，取消与超时需要从 ctx 判断。
func wrapRPC(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var jsonErr *rpc.JsonRpcError
	if errors.As(err, &jsonErr) {
		return &RPCError{Code: jsonErr.Code, Message: jsonErr.Message, Data: jsonErr.Data}
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

var _ Ledger = (*RPCLedger)(nil)
