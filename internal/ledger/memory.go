package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/types"
)

// SendFault 注入到下一次 SendTransaction 的故障
type SendFault int

const (
	// FaultLostResponse 交易已落账，但调用方收到网络错误
	FaultLostResponse SendFault = iota + 1
	// FaultLostRequest 请求未到达节点，返回网络错误
	FaultLostRequest
	// FaultDropped 节点接受签名但交易永远不会落账
	FaultDropped
)

type memTx struct {
	summary  TxSummary
	accounts []types.Pubkey
	polls    int
}

// MemLedger 内存账本：按链上程序规则执行交易，用于测试与离线演练
type MemLedger struct {
	mu sync.Mutex

	program  types.Pubkey
	accounts map[types.Pubkey][]byte
	txs      map[string]*memTx
	landed   []string

	hidden map[types.Pubkey]int
	faults []SendFault

	height      uint64
	slot        uint64
	heightStep  uint64
	validWindow uint64
	blockhashes map[string]uint64
	now         func() int64

	sends int
}

type MemOption func(*MemLedger)

// WithClock 指定链上时钟（Unix 秒）
func WithClock(now func() int64) MemOption {
	return func(m *MemLedger) {
		m.now = now
	}
}

// WithBlockhashWindow 区块哈希的有效高度窗口
func WithBlockhashWindow(n uint64) MemOption {
	return func(m *MemLedger) {
		m.validWindow = n
	}
}

// WithHeightStep 每次查询区块高度后自动推进的高度，用于模拟出块
func WithHeightStep(n uint64) MemOption {
	return func(m *MemLedger) {
		m.heightStep = n
	}
}

func NewMemLedger(program types.Pubkey, opts ...MemOption) *MemLedger {
	m := &MemLedger{
		program:     program,
		accounts:    make(map[types.Pubkey][]byte),
		txs:         make(map[string]*memTx),
		hidden:      make(map[types.Pubkey]int),
		blockhashes: make(map[string]uint64),
		height:      1,
		slot:        1,
		validWindow: 150,
		now:         func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetAccount 直接写入账户数据，绕过程序规则
func (m *MemLedger) SetAccount(addr types.Pubkey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[addr] = append([]byte(nil), data...)
}

// DeleteAccount 删除账户，模拟记录缺失
func (m *MemLedger) DeleteAccount(addr types.Pubkey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, addr)
}

// HideAccount 接下来 reads 次读取该地址时返回不存在（reads < 0 表示一直隐藏），模拟节点可见性延迟
func (m *MemLedger) HideAccount(addr types.Pubkey, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[addr] = reads
}

func (m *MemLedger) InjectSendFault(f SendFault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, f)
}

// Sends 累计收到的 SendTransaction 调用次数
func (m *MemLedger) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

// AdvanceHeight 推进区块高度
func (m *MemLedger) AdvanceHeight(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height += n
	m.slot += n
}

func (m *MemLedger) GetAccount(ctx context.Context, addr types.Pubkey) (*AccountData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if left, ok := m.hidden[addr]; ok && left != 0 {
		if left > 0 {
			m.hidden[addr] = left - 1
		}
		return nil, ErrAccountNotFound
	}
	data, ok := m.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &AccountData{
		Address:  addr,
		Owner:    m.program,
		Lamports: rentExempt(len(data)),
		Data:     append([]byte(nil), data...),
	}, nil
}

func (m *MemLedger) LatestBlockRef(ctx context.Context) (BlockRef, error) {
	if err := ctx.Err(); err != nil {
		return BlockRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], m.height)
	sum := sha256.Sum256(append([]byte("blockhash"), seed[:]...))
	hash := base58.Encode(sum[:])
	ref := BlockRef{Blockhash: hash, LastValidBlockHeight: m.height + m.validWindow}
	m.blockhashes[hash] = ref.LastValidBlockHeight
	return ref, nil
}

func (m *MemLedger) BlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.height
	m.height += m.heightStep
	m.slot += m.heightStep
	return h, nil
}

func (m *MemLedger) SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++

	if len(tx.Signatures) == 0 || len(tx.Message.Accounts) == 0 {
		return "", &RPCError{Code: -32602, Message: "invalid transaction: no signatures"}
	}
	sig := base58.Encode(tx.Signatures[0])

	var fault SendFault
	if len(m.faults) > 0 {
		fault, m.faults = m.faults[0], m.faults[1:]
	}
	if fault == FaultLostRequest {
		return "", fmt.Errorf("%w: sendTransaction: connection reset by peer", ErrNetwork)
	}

	if _, seen := m.txs[sig]; seen {
		return "", &RPCError{
			Code:    CodeSendTransactionPreflightFailure,
			Message: "Transaction simulation failed: This transaction has already been processed",
			Data:    map[string]any{"err": "AlreadyProcessed", "logs": []any{}},
		}
	}
	if err := m.verify(tx); err != nil {
		return "", err
	}
	if fault == FaultDropped {
		return sig, nil
	}

	ixs, err := decompile(tx)
	if err != nil {
		return "", &RPCError{Code: -32602, Message: err.Error()}
	}
	exec := &execution{
		program: m.program,
		read: func(addr types.Pubkey) ([]byte, bool) {
			data, ok := m.accounts[addr]
			return data, ok
		},
		staged: make(map[types.Pubkey][]byte),
		now:    m.now(),
	}
	touched := make(map[types.Pubkey]struct{})
	for i := range ixs {
		ix := &ixs[i]
		for _, a := range ix.Accounts {
			touched[a] = struct{}{}
		}
		if ix.ProgramID == consts.SystemProgram {
			continue
		}
		if ix.ProgramID != m.program {
			return "", &RPCError{
				Code:    CodeSendTransactionPreflightFailure,
				Message: "Transaction simulation failed: Attempt to load a program that does not exist",
				Data:    map[string]any{"err": "ProgramAccountNotFound", "logs": []any{}},
			}
		}
		if failure := exec.run(ix); failure != nil {
			return "", &RPCError{
				Code:    CodeSendTransactionPreflightFailure,
				Message: fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: custom program error: 0x%x", i, failure.code),
				Data:    failure.data(i),
			}
		}
	}

	for addr, data := range exec.staged {
		m.accounts[addr] = data
	}
	m.slot++
	m.height++
	blockTime := exec.now
	rec := &memTx{
		summary: TxSummary{
			Signature: sig,
			Slot:      m.slot,
			BlockTime: &blockTime,
			FeePayer:  types.PubkeyFromSdk(tx.Message.Accounts[0]),
			Logs:      exec.logs,
		},
	}
	for a := range touched {
		rec.accounts = append(rec.accounts, a)
	}
	rec.accounts = append(rec.accounts, rec.summary.FeePayer)
	m.txs[sig] = rec
	m.landed = append(m.landed, sig)

	if fault == FaultLostResponse {
		return "", fmt.Errorf("%w: sendTransaction: i/o timeout", ErrNetwork)
	}
	return sig, nil
}

// verify 校验区块哈希有效期与全部签名
func (m *MemLedger) verify(tx sdktypes.Transaction) error {
	lastValid, ok := m.blockhashes[tx.Message.RecentBlockHash]
	if !ok || m.height > lastValid {
		return &RPCError{
			Code:    CodeSendTransactionPreflightFailure,
			Message: "Transaction simulation failed: Blockhash not found",
			Data:    map[string]any{"err": "BlockhashNotFound", "logs": []any{}},
		}
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return &RPCError{Code: -32602, Message: fmt.Sprintf("invalid transaction: %v", err)}
	}
	required := int(tx.Message.Header.NumRequireSignatures)
	if required > len(tx.Signatures) || required > len(tx.Message.Accounts) {
		return &RPCError{Code: -32602, Message: "invalid transaction: missing signatures"}
	}
	for i := 0; i < required; i++ {
		if !ed25519.Verify(tx.Message.Accounts[i].Bytes(), msg, tx.Signatures[i]) {
			return &RPCError{
				Code:    CodeSendTransactionPreflightFailure,
				Message: "Transaction simulation failed: signature verification failure",
				Data:    map[string]any{"err": "SignatureFailure", "logs": []any{}},
			}
		}
	}
	return nil
}

// SignatureStatus 首次查询返回 processed，之后返回 confirmed
func (m *MemLedger) SignatureStatus(ctx context.Context, signature string) (*TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.txs[signature]
	if !ok {
		return nil, nil
	}
	rec.polls++
	conf := CommitmentConfirmed
	if rec.polls == 1 {
		conf = CommitmentProcessed
	}
	return &TxStatus{Slot: rec.summary.Slot, Confirmation: conf}, nil
}

// HistoricalSignatureStatus 模拟账本保留全部交易，与 SignatureStatus 一致
func (m *MemLedger) HistoricalSignatureStatus(ctx context.Context, signature string) (*TxStatus, error) {
	return m.SignatureStatus(ctx, signature)
}

func (m *MemLedger) SignaturesForAddress(ctx context.Context, addr types.Pubkey, limit int) ([]SignatureInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SignatureInfo
	for i := len(m.landed) - 1; i >= 0; i-- {
		rec := m.txs[m.landed[i]]
		for _, a := range rec.accounts {
			if a == addr {
				out = append(out, SignatureInfo{
					Signature: rec.summary.Signature,
					Slot:      rec.summary.Slot,
					BlockTime: rec.summary.BlockTime,
				})
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemLedger) GetTransaction(ctx context.Context, signature string) (*TxSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.txs[signature]
	if !ok {
		return nil, nil
	}
	s := rec.summary
	s.Logs = append([]string(nil), rec.summary.Logs...)
	return &s, nil
}

// Addresses 当前所有账户地址（有序），便于测试断言
func (m *MemLedger) Addresses() []types.Pubkey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Pubkey, 0, len(m.accounts))
	for a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// decompile 将消息中的索引指令还原为地址形式
func decompile(tx sdktypes.Transaction) ([]domain.Instruction, error) {
	msg := tx.Message
	keys := make([]types.Pubkey, len(msg.Accounts))
	for i, k := range msg.Accounts {
		keys[i] = types.PubkeyFromSdk(k)
	}
	required := int(msg.Header.NumRequireSignatures)

	out := make([]domain.Instruction, 0, len(msg.Instructions))
	for _, ci := range msg.Instructions {
		if ci.ProgramIDIndex < 0 || ci.ProgramIDIndex >= len(keys) {
			return nil, fmt.Errorf("program index %d out of range", ci.ProgramIDIndex)
		}
		ix := domain.Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Accounts:  make([]types.Pubkey, 0, len(ci.Accounts)),
			Signers:   make([]bool, 0, len(ci.Accounts)),
			Data:      ci.Data,
		}
		for _, idx := range ci.Accounts {
			if idx < 0 || idx >= len(keys) {
				return nil, fmt.Errorf("account index %d out of range", idx)
			}
			ix.Accounts = append(ix.Accounts, keys[idx])
			ix.Signers = append(ix.Signers, idx < required)
		}
		out = append(out, ix)
	}
	return out, nil
}

// rentExempt 粗略的免租金额度，仅用于填充 Lamports
func rentExempt(size int) uint64 {
	return uint64(128+size) * 6960
}

var _ Ledger = (*MemLedger)(nil)
