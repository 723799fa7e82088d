package domain

import "dao-voting-sol/internal/types"

// Instruction 表示交易中的一条已展开指令（账户已由索引还原为地址）。
type Instruction struct {
	ProgramID types.Pubkey   // 所调用的程序地址
	Accounts  []types.Pubkey // 指令涉及的账户列表，保持原始顺序
	Signers   []bool         // 与 Accounts 一一对应，该账户是否签名
	Data      []byte         // 指令数据（discriminator + 参数）
}

// AccountAt 按位置取账户，越界返回 false
func (ix *Instruction) AccountAt(i int) (types.Pubkey, bool) {
	if i < 0 || i >= len(ix.Accounts) {
		return types.Pubkey{}, false
	}
	return ix.Accounts[i], true
}

// IsSignerAt 第 i 个账户是否为签名者
func (ix *Instruction) IsSignerAt(i int) bool {
	return i >= 0 && i < len(ix.Signers) && ix.Signers[i]
}
