package domain

import (
	"fmt"
	"strings"

	"dao-voting-sol/internal/types"
)

// ProposalStatus 提案状态，链上编码为 1 字节 tag（按声明顺序）
type ProposalStatus uint8

const (
	StatusActive ProposalStatus = iota
	StatusPassed
	StatusRejected
	StatusExpired

	proposalStatusCount
)

func (s ProposalStatus) Valid() bool {
	return s < proposalStatusCount
}

func (s ProposalStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPassed:
		return "passed"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// VoteChoice 投票选项，链上编码为 1 字节 tag
type VoteChoice uint8

const (
	ChoiceYes VoteChoice = iota
	ChoiceNo
	ChoiceAbstain

	voteChoiceCount
)

func (c VoteChoice) Valid() bool {
	return c < voteChoiceCount
}

func (c VoteChoice) String() string {
	switch c {
	case ChoiceYes:
		return "yes"
	case ChoiceNo:
		return "no"
	case ChoiceAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("choice(%d)", uint8(c))
	}
}

// ParseVoteChoice 解析 "yes" / "no" / "abstain"（不区分大小写）
func ParseVoteChoice(s string) (VoteChoice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return ChoiceYes, nil
	case "no", "n":
		return ChoiceNo, nil
	case "abstain", "a":
		return ChoiceAbstain, nil
	}
	return 0, fmt.Errorf("unknown vote choice %q", s)
}

// DaoState 全局唯一的 DAO 状态账户，seeds = ["dao-state"]
type DaoState struct {
	Authority     types.Pubkey // 管理员，唯一可 finalize 提案的身份
	Name          string       // DAO 名称（≤ 50 字节）
	ProposalCount uint64       // 已创建提案数，同时是下一个提案的 id
	Bump          uint8        // PDA bump
}

// Proposal 提案账户，seeds = ["proposal", u64LE(id)]
type Proposal struct {
	ID           uint64         // 创建时的 ProposalCount，之后不可变
	Creator      types.Pubkey   // 创建者
	Title        string         // 标题（≤ 100 字节）
	Description  string         // 描述（≤ 500 字节）
	YesVotes     uint64         // 赞成票（单调不减）
	NoVotes      uint64         // 反对票
	AbstainVotes uint64         // 弃权票
	Status       ProposalStatus // 仅由 finalize 修改
	CreatedAt    int64          // Unix 秒
	ExpiresAt    int64          // Unix 秒，CreatedAt + votingDuration
	Bump         uint8          // PDA bump
}

func (p *Proposal) TotalVotes() uint64 {
	return p.YesVotes + p.NoVotes + p.AbstainVotes
}

// Passing 链上程序的通过规则：赞成票严格多于反对票
func (p *Proposal) Passing() bool {
	return p.YesVotes > p.NoVotes
}

func (p *Proposal) IsExpired(now int64) bool {
	return p.ExpiresAt > 0 && now >= p.ExpiresAt
}

// Votes 按选项取票数
func (p *Proposal) Votes(c VoteChoice) uint64 {
	switch c {
	case ChoiceYes:
		return p.YesVotes
	case ChoiceNo:
		return p.NoVotes
	case ChoiceAbstain:
		return p.AbstainVotes
	}
	return 0
}

// VoteRecord 投票记录，seeds = ["vote", proposal, voter]，每个 (proposal, voter) 至多一条
type VoteRecord struct {
	Voter      types.Pubkey // 投票人
	ProposalID uint64       // 所属提案 id
	Choice     VoteChoice   // 投票选项
	Timestamp  int64        // Unix 秒
	Bump       uint8        // PDA bump
}

func ParseProposalStatus(s string) (ProposalStatus, error) {
	for st := StatusActive; st < proposalStatusCount; st++ {
		if st.String() == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown proposal status %q", s)
}
