package ledger

import (
	"encoding/json"
	"fmt"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/logic/codec"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/types"
)

// 链上分配的账户空间（8 字节 discriminator + 字段最大长度），不足部分补零
const (
	daoStateSpace   = 8 + 32 + (4 + consts.MaxDaoNameLen) + 8 + 1
	proposalSpace   = 8 + 8 + 32 + (4 + consts.MaxTitleLen) + (4 + consts.MaxDescriptionLen) + 8*3 + 1 + 8 + 8 + 1
	voteRecordSpace = 8 + 32 + 8 + 1 + 8 + 1
)

// 程序错误码：系统程序 / Anchor 框架 / 程序自定义
const (
	errAccountAlreadyInUse   = 0
	errConstraintSeeds       = 2006
	errAccountNotSigner      = 3010
	errAccountNotInitialized = 3012
	errNotEnoughAccounts     = 3005
	errDidntDeserialize      = 3003
	errFallbackNotFound      = 101

	errNameTooLong        = 6000
	errTitleTooLong       = 6001
	errDescriptionTooLong = 6002
	errProposalNotActive  = 6003
	errUnauthorized       = 6004
)

var anchorErrorNames = map[uint32]string{
	errConstraintSeeds:       "ConstraintSeeds",
	errAccountNotSigner:      "AccountNotSigner",
	errAccountNotInitialized: "AccountNotInitialized",
	errNotEnoughAccounts:     "AccountNotEnoughKeys",
	errDidntDeserialize:      "AccountDidNotDeserialize",
	errFallbackNotFound:      "InstructionFallbackNotFound",
	errNameTooLong:           "NameTooLong",
	errTitleTooLong:          "TitleTooLong",
	errDescriptionTooLong:    "DescriptionTooLong",
	errProposalNotActive:     "ProposalNotActive",
	errUnauthorized:          "Unauthorized",
}

// instructionFailure 单条指令执行失败，logs 为失败前后产生的全部日志
type instructionFailure struct {
	code uint32
	logs []string
}

func (f *instructionFailure) data(index int) map[string]any {
	var raw any
	_ = json.Unmarshal([]byte(fmt.Sprintf(`{"InstructionError":[%d,{"Custom":%d}]}`, index, f.code)), &raw)
	logs := make([]any, 0, len(f.logs))
	for _, l := range f.logs {
		logs = append(logs, l)
	}
	return map[string]any{"err": raw, "logs": logs}
}

// execution 一笔交易的执行上下文，写入先暂存，全部指令成功后才落账
type execution struct {
	program types.Pubkey
	read    func(types.Pubkey) ([]byte, bool)
	staged  map[types.Pubkey][]byte
	logs    []string
	now     int64
}

func (e *execution) get(addr types.Pubkey) ([]byte, bool) {
	if data, ok := e.staged[addr]; ok {
		return data, true
	}
	return e.read(addr)
}

func (e *execution) put(addr types.Pubkey, data []byte, space int) {
	if len(data) < space {
		padded := make([]byte, space)
		copy(padded, data)
		data = padded
	}
	e.staged[addr] = data
}

func (e *execution) log(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

func (e *execution) fail(code uint32, account string) *instructionFailure {
	if name, ok := anchorErrorNames[code]; ok {
		if account != "" {
			e.log("Program log: AnchorError caused by account: %s. Error Code: %s. Error Number: %d.", account, name, code)
		} else {
			e.log("Program log: AnchorError occurred. Error Code: %s. Error Number: %d.", name, code)
		}
	}
	e.log("Program %s failed: custom program error: 0x%x", e.program, code)
	return &instructionFailure{code: code, logs: e.logs}
}

// allocate 模拟系统程序 create_account：地址已被占用时返回 Custom(0)
func (e *execution) allocate(addr types.Pubkey) *instructionFailure {
	if _, used := e.get(addr); !used {
		return nil
	}
	e.log("Program %s invoke [2]", consts.SystemProgramStr)
	e.log("Allocate: account Address { address: %s, base: None } already in use", addr)
	e.log("Program %s failed: custom program error: 0x0", consts.SystemProgramStr)
	return e.fail(errAccountAlreadyInUse, "")
}

func (e *execution) run(ix *domain.Instruction) *instructionFailure {
	e.log("Program %s invoke [1]", e.program)

	decoded, err := codec.DecodeInstruction(ix.Data)
	if err != nil {
		return e.fail(errFallbackNotFound, "")
	}
	e.log("Program log: Instruction: %s", decoded.Kind)

	var failure *instructionFailure
	switch decoded.Kind {
	case codec.KindInitialize:
		failure = e.initialize(ix, decoded.Initialize)
	case codec.KindCreateProposal:
		failure = e.createProposal(ix, decoded.CreateProposal)
	case codec.KindCastVote:
		failure = e.castVote(ix, decoded.CastVote)
	case codec.KindFinalizeProposal:
		failure = e.finalizeProposal(ix)
	}
	if failure != nil {
		return failure
	}
	e.log("Program %s success", e.program)
	return nil
}

func (e *execution) initialize(ix *domain.Instruction, args *codec.InitializeArgs) *instructionFailure {
	if len(ix.Accounts) < 3 {
		return e.fail(errNotEnoughAccounts, "")
	}
	dao, authority := ix.Accounts[0], ix.Accounts[1]
	if !ix.IsSignerAt(1) {
		return e.fail(errAccountNotSigner, "authority")
	}
	want, bump, err := pda.DaoStateAddress(e.program)
	if err != nil || want != dao {
		return e.fail(errConstraintSeeds, "dao_state")
	}
	if f := e.allocate(dao); f != nil {
		return f
	}
	if len(args.Name) > consts.MaxDaoNameLen {
		return e.fail(errNameTooLong, "")
	}
	data, err := codec.EncodeDaoState(&domain.DaoState{Authority: authority, Name: args.Name, Bump: bump})
	if err != nil {
		return e.fail(errDidntDeserialize, "dao_state")
	}
	e.put(dao, data, daoStateSpace)
	return nil
}

func (e *execution) createProposal(ix *domain.Instruction, args *codec.CreateProposalArgs) *instructionFailure {
	if len(ix.Accounts) < 4 {
		return e.fail(errNotEnoughAccounts, "")
	}
	daoAddr, propAddr, creator := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
	if !ix.IsSignerAt(2) {
		return e.fail(errAccountNotSigner, "creator")
	}
	raw, ok := e.get(daoAddr)
	if !ok {
		return e.fail(errAccountNotInitialized, "dao_state")
	}
	dao, err := codec.DecodeDaoState(raw)
	if err != nil {
		return e.fail(errDidntDeserialize, "dao_state")
	}
	// init 约束先分配账户，再校验 seeds
	if f := e.allocate(propAddr); f != nil {
		return f
	}
	want, bump, err := pda.ProposalAddress(e.program, dao.ProposalCount)
	if err != nil || want != propAddr {
		return e.fail(errConstraintSeeds, "proposal")
	}
	if len(args.Title) > consts.MaxTitleLen {
		return e.fail(errTitleTooLong, "")
	}
	if len(args.Description) > consts.MaxDescriptionLen {
		return e.fail(errDescriptionTooLong, "")
	}

	p := &domain.Proposal{
		ID:          dao.ProposalCount,
		Creator:     creator,
		Title:       args.Title,
		Description: args.Description,
		Status:      domain.StatusActive,
		CreatedAt:   e.now,
		ExpiresAt:   e.now + args.VotingDurationSeconds,
		Bump:        bump,
	}
	pdata, err := codec.EncodeProposal(p)
	if err != nil {
		return e.fail(errDidntDeserialize, "proposal")
	}
	dao.ProposalCount++
	ddata, err := codec.EncodeDaoState(dao)
	if err != nil {
		return e.fail(errDidntDeserialize, "dao_state")
	}
	e.put(propAddr, pdata, proposalSpace)
	e.put(daoAddr, ddata, daoStateSpace)
	return nil
}

func (e *execution) castVote(ix *domain.Instruction, args *codec.CastVoteArgs) *instructionFailure {
	if len(ix.Accounts) < 4 {
		return e.fail(errNotEnoughAccounts, "")
	}
	propAddr, voteAddr, voter := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
	if !ix.IsSignerAt(2) {
		return e.fail(errAccountNotSigner, "voter")
	}
	raw, ok := e.get(propAddr)
	if !ok {
		return e.fail(errAccountNotInitialized, "proposal")
	}
	p, err := codec.DecodeProposal(raw)
	if err != nil {
		return e.fail(errDidntDeserialize, "proposal")
	}
	if f := e.allocate(voteAddr); f != nil {
		return f
	}
	want, bump, err := pda.VoteRecordAddress(e.program, propAddr, voter)
	if err != nil || want != voteAddr {
		return e.fail(errConstraintSeeds, "vote_record")
	}
	if p.Status != domain.StatusActive {
		return e.fail(errProposalNotActive, "")
	}

	switch args.Choice {
	case domain.ChoiceYes:
		p.YesVotes++
	case domain.ChoiceNo:
		p.NoVotes++
	case domain.ChoiceAbstain:
		p.AbstainVotes++
	}
	vdata, err := codec.EncodeVoteRecord(&domain.VoteRecord{
		Voter:      voter,
		ProposalID: p.ID,
		Choice:     args.Choice,
		Timestamp:  e.now,
		Bump:       bump,
	})
	if err != nil {
		return e.fail(errDidntDeserialize, "vote_record")
	}
	pdata, err := codec.EncodeProposal(p)
	if err != nil {
		return e.fail(errDidntDeserialize, "proposal")
	}
	e.put(voteAddr, vdata, voteRecordSpace)
	e.put(propAddr, pdata, proposalSpace)
	return nil
}

// finalizeProposal 接受 [dao_state, proposal, authority] 或旧版 [proposal, authority]
func (e *execution) finalizeProposal(ix *domain.Instruction) *instructionFailure {
	var daoAddr, propAddr, authority types.Pubkey
	authIdx := 2
	switch {
	case len(ix.Accounts) >= 3:
		daoAddr, propAddr, authority = ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
	case len(ix.Accounts) == 2:
		propAddr, authority = ix.Accounts[0], ix.Accounts[1]
		authIdx = 1
		addr, _, err := pda.DaoStateAddress(e.program)
		if err != nil {
			return e.fail(errConstraintSeeds, "dao_state")
		}
		daoAddr = addr
	default:
		return e.fail(errNotEnoughAccounts, "")
	}
	if !ix.IsSignerAt(authIdx) {
		return e.fail(errAccountNotSigner, "authority")
	}
	if want, _, err := pda.DaoStateAddress(e.program); err != nil || want != daoAddr {
		return e.fail(errConstraintSeeds, "dao_state")
	}
	rawDao, ok := e.get(daoAddr)
	if !ok {
		return e.fail(errAccountNotInitialized, "dao_state")
	}
	dao, err := codec.DecodeDaoState(rawDao)
	if err != nil {
		return e.fail(errDidntDeserialize, "dao_state")
	}
	rawProp, ok := e.get(propAddr)
	if !ok {
		return e.fail(errAccountNotInitialized, "proposal")
	}
	p, err := codec.DecodeProposal(rawProp)
	if err != nil {
		return e.fail(errDidntDeserialize, "proposal")
	}
	if want, _, err := pda.ProposalAddress(e.program, p.ID); err != nil || want != propAddr {
		return e.fail(errConstraintSeeds, "proposal")
	}
	if p.Status != domain.StatusActive {
		return e.fail(errProposalNotActive, "")
	}
	if authority != dao.Authority {
		return e.fail(errUnauthorized, "")
	}

	if p.Passing() {
		p.Status = domain.StatusPassed
	} else {
		p.Status = domain.StatusRejected
	}
	pdata, err := codec.EncodeProposal(p)
	if err != nil {
		return e.fail(errDidntDeserialize, "proposal")
	}
	e.put(propAddr, pdata, proposalSpace)
	return nil
}
