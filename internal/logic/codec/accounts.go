package codec

import (
	"fmt"

	"github.com/near/borsh-go"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/logic/domain"
)

// 账户布局（Anchor 约定）：
//
//	[0:8]  account discriminator
//	[8:]   borsh 序列化的字段，按声明顺序
//
// 链上账户按最大长度分配空间，有效数据之后可能跟随补零字节，解码时忽略。

func validStatus(tag uint8) bool { return domain.ProposalStatus(tag).Valid() }
func validChoice(tag uint8) bool { return domain.VoteChoice(tag).Valid() }

// DecodeDaoState 解析 DaoState 账户数据
func DecodeDaoState(data []byte) (*domain.DaoState, error) {
	r := newReader("DaoState", data)
	if err := r.discriminator(consts.DaoStateDiscriminator); err != nil {
		return nil, err
	}

	var (
		s   domain.DaoState
		err error
	)
	if s.Authority, err = r.pubkey("authority"); err != nil {
		return nil, err
	}
	if s.Name, err = r.str("name"); err != nil {
		return nil, err
	}
	if s.ProposalCount, err = r.u64("proposal_count"); err != nil {
		return nil, err
	}
	if s.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeProposal 解析 Proposal 账户数据
func DecodeProposal(data []byte) (*domain.Proposal, error) {
	r := newReader("Proposal", data)
	if err := r.discriminator(consts.ProposalDiscriminator); err != nil {
		return nil, err
	}

	var (
		p   domain.Proposal
		err error
	)
	if p.ID, err = r.u64("id"); err != nil {
		return nil, err
	}
	if p.Creator, err = r.pubkey("creator"); err != nil {
		return nil, err
	}
	if p.Title, err = r.str("title"); err != nil {
		return nil, err
	}
	if p.Description, err = r.str("description"); err != nil {
		return nil, err
	}
	if p.YesVotes, err = r.u64("yes_votes"); err != nil {
		return nil, err
	}
	if p.NoVotes, err = r.u64("no_votes"); err != nil {
		return nil, err
	}
	if p.AbstainVotes, err = r.u64("abstain_votes"); err != nil {
		return nil, err
	}
	status, err := r.enumTag("status", validStatus)
	if err != nil {
		return nil, err
	}
	p.Status = domain.ProposalStatus(status)
	if p.CreatedAt, err = r.i64("created_at"); err != nil {
		return nil, err
	}
	if p.ExpiresAt, err = r.i64("expires_at"); err != nil {
		return nil, err
	}
	if p.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeVoteRecord 解析 VoteRecord 账户数据
func DecodeVoteRecord(data []byte) (*domain.VoteRecord, error) {
	r := newReader("VoteRecord", data)
	if err := r.discriminator(consts.VoteRecordDiscriminator); err != nil {
		return nil, err
	}

	var (
		v   domain.VoteRecord
		err error
	)
	if v.Voter, err = r.pubkey("voter"); err != nil {
		return nil, err
	}
	if v.ProposalID, err = r.u64("proposal_id"); err != nil {
		return nil, err
	}
	choice, err := r.enumTag("choice", validChoice)
	if err != nil {
		return nil, err
	}
	v.Choice = domain.VoteChoice(choice)
	if v.Timestamp, err = r.i64("timestamp"); err != nil {
		return nil, err
	}
	if v.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	return &v, nil
}

// Account 已解码账户的 tagged variant，只有本包声明的三种记录实现它
type Account interface {
	accountKind() string
}

type DaoStateAccount struct{ *domain.DaoState }
type ProposalAccount struct{ *domain.Proposal }
type VoteRecordAccount struct{ *domain.VoteRecord }

func (DaoStateAccount) accountKind() string   { return "DaoState" }
func (ProposalAccount) accountKind() string   { return "Proposal" }
func (VoteRecordAccount) accountKind() string { return "VoteRecord" }

// KindOf 返回账户类型名，用于日志
func KindOf(a Account) string {
	if a == nil {
		return "unknown"
	}
	return a.accountKind()
}

// DecodeAccount 根据 discriminator 分派到具体记录类型，未知 discriminator 返回 ErrBadDiscriminator
func DecodeAccount(data []byte) (Account, error) {
	if len(data) < 8 {
		return nil, &DecodeError{Record: "Account", Field: "discriminator", Err: ErrTruncatedBuffer}
	}
	switch [8]byte(data[:8]) {
	case consts.DaoStateDiscriminator:
		s, err := DecodeDaoState(data)
		if err != nil {
			return nil, err
		}
		return DaoStateAccount{s}, nil
	case consts.ProposalDiscriminator:
		p, err := DecodeProposal(data)
		if err != nil {
			return nil, err
		}
		return ProposalAccount{p}, nil
	case consts.VoteRecordDiscriminator:
		v, err := DecodeVoteRecord(data)
		if err != nil {
			return nil, err
		}
		return VoteRecordAccount{v}, nil
	default:
		return nil, &DecodeError{Record: "Account", Field: "discriminator", Err: ErrBadDiscriminator}
	}
}

// ---- 编码：供模拟账本与测试使用，布局与链上程序写入的一致 ----

func EncodeDaoState(s *domain.DaoState) ([]byte, error) {
	return encodeRecord(consts.DaoStateDiscriminator, *s)
}

func EncodeProposal(p *domain.Proposal) ([]byte, error) {
	if !p.Status.Valid() {
		return nil, fmt.Errorf("encode Proposal.status: %w: %d", ErrInvalidEnumTag, p.Status)
	}
	return encodeRecord(consts.ProposalDiscriminator, *p)
}

func EncodeVoteRecord(v *domain.VoteRecord) ([]byte, error) {
	if !v.Choice.Valid() {
		return nil, fmt.Errorf("encode VoteRecord.choice: %w: %d", ErrInvalidEnumTag, v.Choice)
	}
	return encodeRecord(consts.VoteRecordDiscriminator, *v)
}

func encodeRecord(disc [8]byte, body any) ([]byte, error) {
	payload, err := borsh.Serialize(body)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize %T: %w", body, err)
	}
	out := make([]byte, 0, 8+len(payload))
	out = append(out, disc[:]...)
	return append(out, payload...), nil
}
