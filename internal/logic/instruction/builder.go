package instruction

import (
	"fmt"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/logic/codec"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/types"
)

// Builder 构造 dao_program 的四条指令。账户顺序与读写/签名标志是链上 ABI 的一部分，
// 错位只会在链上得到一个不透明的拒绝，因此测试里对每条指令的字节做了固定。
type Builder struct {
	program types.Pubkey

	// finalize 是否带上 DaoState（只读），取决于部署的程序版本
	finalizeWithDaoState bool
}

type Option func(*Builder)

// WithDaoStateOnFinalize finalize 指令的第 0 个账户为 DaoState(read)
func WithDaoStateOnFinalize(enabled bool) Option {
	return func(b *Builder) {
		b.finalizeWithDaoState = enabled
	}
}

func NewBuilder(program types.Pubkey, opts ...Option) *Builder {
	b := &Builder{program: program, finalizeWithDaoState: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) Program() types.Pubkey {
	return b.program
}

func meta(key types.Pubkey, signer, writable bool) sdktypes.AccountMeta {
	return sdktypes.AccountMeta{PubKey: key.ToSdk(), IsSigner: signer, IsWritable: writable}
}

func (b *Builder) instruction(data []byte, accounts ...sdktypes.AccountMeta) sdktypes.Instruction {
	return sdktypes.Instruction{
		ProgramID: b.program.ToSdk(),
		Accounts:  accounts,
		Data:      data,
	}
}

// Initialize accounts: DaoState(w), Authority(s,w), SystemProgram(r)
func (b *Builder) Initialize(authority types.Pubkey, name string) (sdktypes.Instruction, error) {
	daoState, _, err := pda.DaoStateAddress(b.program)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	data, err := codec.EncodeInitializeArgs(name)
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("initialize args: %w", err)
	}
	return b.instruction(data,
		meta(daoState, false, true),
		meta(authority, true, true),
		meta(consts.SystemProgram, false, false),
	), nil
}

// CreateProposal accounts: DaoState(w), Proposal(w), Creator(s,w), SystemProgram(r)。
// proposalID 必须等于链上当前的 ProposalCount，否则链上会按地址冲突拒绝。
func (b *Builder) CreateProposal(
	creator types.Pubkey,
	proposalID uint64,
	title, description string,
	votingDurationSeconds int64,
) (sdktypes.Instruction, error) {
	daoState, _, err := pda.DaoStateAddress(b.program)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	proposal, _, err := pda.ProposalAddress(b.program, proposalID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	data, err := codec.EncodeCreateProposalArgs(title, description, votingDurationSeconds)
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("create_proposal args: %w", err)
	}
	return b.instruction(data,
		meta(daoState, false, true),
		meta(proposal, false, true),
		meta(creator, true, true),
		meta(consts.SystemProgram, false, false),
	), nil
}

// CastVote accounts: Proposal(w), VoteRecord(w), Voter(s,w), SystemProgram(r)
func (b *Builder) CastVote(voter types.Pubkey, proposalID uint64, choice domain.VoteChoice) (sdktypes.Instruction, error) {
	proposal, _, err := pda.ProposalAddress(b.program, proposalID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	voteRecord, _, err := pda.VoteRecordAddress(b.program, proposal, voter)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	data, err := codec.EncodeCastVoteArgs(choice)
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("cast_vote args: %w", err)
	}
	return b.instruction(data,
		meta(proposal, false, true),
		meta(voteRecord, false, true),
		meta(voter, true, true),
		meta(consts.SystemProgram, false, false),
	), nil
}

// FinalizeProposal accounts: [DaoState(r)], Proposal(w), Authority(s)
func (b *Builder) FinalizeProposal(authority types.Pubkey, proposalID uint64) (sdktypes.Instruction, error) {
	proposal, _, err := pda.ProposalAddress(b.program, proposalID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}

	accounts := make([]sdktypes.AccountMeta, 0, 3)
	if b.finalizeWithDaoState {
		daoState, _, err := pda.DaoStateAddress(b.program)
		if err != nil {
			return sdktypes.Instruction{}, err
		}
		accounts = append(accounts, meta(daoState, false, false))
	}
	accounts = append(accounts,
		meta(proposal, false, true),
		meta(authority, true, false),
	)
	return b.instruction(codec.EncodeFinalizeProposalArgs(), accounts...), nil
}
