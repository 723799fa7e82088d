package domain

import (
	"fmt"

	"dao-voting-sol/internal/types"
)

// ActivityKind 治理活动类型，同时作为 Kafka 消息的事件类型前缀
type ActivityKind uint32

const (
	ActivityProposalCreated ActivityKind = iota + 1
	ActivityVoteCast
	ActivityStatusChanged
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityProposalCreated:
		return "proposal_created"
	case ActivityVoteCast:
		return "vote"
	case ActivityStatusChanged:
		return "status_change"
	}
	return fmt.Sprintf("activity(%d)", uint32(k))
}

// ActivityEvent 一次已确认写入对应的活动，字段按 Kind 取用
type ActivityEvent struct {
	Kind       ActivityKind
	ProposalID uint64
	Proposal   types.Pubkey // 提案账户地址，用于分区
	Actor      types.Pubkey // 创建者 / 投票人 / 管理员
	Signature  string
	Timestamp  int64

	Title  string         // ActivityProposalCreated
	Choice VoteChoice     // ActivityVoteCast
	Status ProposalStatus // ActivityStatusChanged
}
