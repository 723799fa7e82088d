package consts

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	SystemProgramStr = "11111111111111111111111111111111"

	// dao_program 的默认部署地址，可被配置覆盖
	DefaultDaoProgramStr = "5RzYB945gtiaM3k2WjiuhptSNQ8M3VmXQbBmJsSTCwC5"

	DefaultRpcEndpoint = "https://api.devnet.solana.com"
	DefaultCommitment  = "confirmed"
)
