package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/near/borsh-go"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/logic/domain"
)

// 指令数据布局：[0:8] 指令 discriminator（与账户 discriminator 无关）+ borsh 参数

type InitializeArgs struct {
	Name string
}

type CreateProposalArgs struct {
	Title                 string
	Description           string
	VotingDurationSeconds int64
}

type CastVoteArgs struct {
	Choice domain.VoteChoice
}

func EncodeInitializeArgs(name string) ([]byte, error) {
	if err := checkLen("name", name, consts.MaxDaoNameLen); err != nil {
		return nil, err
	}
	return encodeInstruction(consts.InitializeDiscriminator, InitializeArgs{Name: name})
}

func EncodeCreateProposalArgs(title, description string, votingDurationSeconds int64) ([]byte, error) {
	if err := checkLen("title", title, consts.MaxTitleLen); err != nil {
		return nil, err
	}
	if err := checkLen("description", description, consts.MaxDescriptionLen); err != nil {
		return nil, err
	}
	return encodeInstruction(consts.CreateProposalDiscriminator, CreateProposalArgs{
		Title:                 title,
		Description:           description,
		VotingDurationSeconds: votingDurationSeconds,
	})
}

func EncodeCastVoteArgs(choice domain.VoteChoice) ([]byte, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("encode CastVote.choice: %w: %d", ErrInvalidEnumTag, choice)
	}
	return encodeInstruction(consts.CastVoteDiscriminator, CastVoteArgs{Choice: choice})
}

// EncodeFinalizeProposalArgs finalize 没有参数，只有 discriminator
func EncodeFinalizeProposalArgs() []byte {
	d := consts.FinalizeProposalDiscriminator
	return append([]byte(nil), d[:]...)
}

func encodeInstruction(disc [8]byte, args any) ([]byte, error) {
	payload, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize %T: %w", args, err)
	}
	out := make([]byte, 0, 8+len(payload))
	out = append(out, disc[:]...)
	return append(out, payload...), nil
}

func checkLen(field, s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%s: %w: %d bytes, max %d", field, ErrFieldTooLong, len(s), max)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s: invalid utf-8", field)
	}
	return nil
}

// ---- 解码：模拟账本按 discriminator 分派指令 ----

// InstructionKind 指令类型
type InstructionKind uint8

const (
	KindUnknown InstructionKind = iota
	KindInitialize
	KindCreateProposal
	KindCastVote
	KindFinalizeProposal
)

func (k InstructionKind) String() string {
	switch k {
	case KindInitialize:
		return "Initialize"
	case KindCreateProposal:
		return "CreateProposal"
	case KindCastVote:
		return "CastVote"
	case KindFinalizeProposal:
		return "FinalizeProposal"
	default:
		return "Unknown"
	}
}

// DecodedInstruction 只有与 Kind 对应的参数字段有值
type DecodedInstruction struct {
	Kind           InstructionKind
	Initialize     *InitializeArgs
	CreateProposal *CreateProposalArgs
	CastVote       *CastVoteArgs
}

// DecodeInstruction 解析指令数据，参数之后的多余字节忽略
func DecodeInstruction(data []byte) (*DecodedInstruction, error) {
	if len(data) < 8 {
		return nil, &DecodeError{Record: "Instruction", Field: "discriminator", Err: ErrTruncatedBuffer}
	}

	switch [8]byte(data[:8]) {
	case consts.InitializeDiscriminator:
		r := newReader("Initialize", data)
		r.off = 8
		name, err := r.str("name")
		if err != nil {
			return nil, err
		}
		return &DecodedInstruction{Kind: KindInitialize, Initialize: &InitializeArgs{Name: name}}, nil

	case consts.CreateProposalDiscriminator:
		r := newReader("CreateProposal", data)
		r.off = 8
		var (
			args CreateProposalArgs
			err  error
		)
		if args.Title, err = r.str("title"); err != nil {
			return nil, err
		}
		if args.Description, err = r.str("description"); err != nil {
			return nil, err
		}
		if args.VotingDurationSeconds, err = r.i64("voting_duration"); err != nil {
			return nil, err
		}
		return &DecodedInstruction{Kind: KindCreateProposal, CreateProposal: &args}, nil

	case consts.CastVoteDiscriminator:
		r := newReader("CastVote", data)
		r.off = 8
		tag, err := r.enumTag("choice", validChoice)
		if err != nil {
			return nil, err
		}
		return &DecodedInstruction{Kind: KindCastVote, CastVote: &CastVoteArgs{Choice: domain.VoteChoice(tag)}}, nil

	case consts.FinalizeProposalDiscriminator:
		return &DecodedInstruction{Kind: KindFinalizeProposal}, nil

	default:
		return nil, &DecodeError{Record: "Instruction", Field: "discriminator", Err: ErrBadDiscriminator}
	}
}
