package consts

import (
	"dao-voting-sol/internal/types"
)

// 公钥形式的地址常量（types.Pubkey），用于链上比对、构造指令
var (
	SystemProgram     types.Pubkey
	DefaultDaoProgram types.Pubkey
)

// init 自动将 base58 字符串地址转换为 types.Pubkey
func init() {
	SystemProgram = types.PubkeyFromBase58(SystemProgramStr)
	DefaultDaoProgram = types.PubkeyFromBase58(DefaultDaoProgramStr)
}
