package consts

import "runtime"

// CpuCount 表示逻辑 CPU 核心数，用于控制并发读取上限
var CpuCount = runtime.NumCPU()

// PDA 种子，区分大小写，必须与链上程序一致
const (
	SeedDaoState = "dao-state"
	SeedProposal = "proposal"
	SeedVote     = "vote"
)

// 链上程序对字段长度的限制（字节）
const (
	MaxDaoNameLen     = 50
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// 账户 discriminator = sha256("account:<Name>")[:8]
var (
	DaoStateDiscriminator   = [8]byte{24, 50, 14, 105, 233, 60, 201, 244}
	ProposalDiscriminator   = [8]byte{26, 94, 189, 187, 116, 136, 53, 33}
	VoteRecordDiscriminator = [8]byte{112, 9, 123, 165, 234, 9, 157, 167}
)

// 指令 discriminator = sha256("global:<snake_name>")[:8]
var (
	InitializeDiscriminator       = [8]byte{175, 175, 109, 31, 13, 152, 155, 237}
	CreateProposalDiscriminator   = [8]byte{132, 116, 68, 174, 216, 160, 198, 22}
	CastVoteDiscriminator         = [8]byte{20, 212, 15, 189, 69, 180, 69, 151}
	FinalizeProposalDiscriminator = [8]byte{23, 68, 51, 167, 109, 173, 187, 164}
)
