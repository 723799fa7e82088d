package submitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dao-voting-sol/internal/ledger"
)

var (
	// ErrDuplicateSubmission 账本报告该交易已处理过，内部分类用，不会返回给调用方
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrStructuralCollision 目标派生地址已被占用，调用方应重新读取后重试
	ErrStructuralCollision = errors.New("structural collision: derived address already in use")
	// ErrExpired 区块哈希过期仍未确认，需要新的 Draft 重新提交
	ErrExpired = errors.New("transaction expired: block height exceeded")
)

// ProgramError 外部程序拒绝了交易，Raw 与 Logs 原样透传
type ProgramError struct {
	Code    int    // RPC 错误码，链上状态返回的失败为 0
	Message string // RPC 错误信息
	Raw     any    // 账本返回的原始 err 载荷
	Logs    []string

	collision bool
}

func (e *ProgramError) Error() string {
	var b strings.Builder
	b.WriteString("program rejected transaction")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Raw != nil {
		if raw, err := json.Marshal(e.Raw); err == nil {
			fmt.Fprintf(&b, " (err: %s)", raw)
		} else {
			fmt.Fprintf(&b, " (err: %v)", e.Raw)
		}
	}
	return b.String()
}

// Is 地址占用类拒绝同时匹配 ErrStructuralCollision
func (e *ProgramError) Is(target error) bool {
	return target == ErrStructuralCollision && e.collision
}

// CustomCode 指令错误中的自定义错误码
func (e *ProgramError) CustomCode() (uint32, bool) {
	return instructionErrorCode(e.Raw)
}

func newProgramError(code int, message string, raw any, logs []string) *ProgramError {
	return &ProgramError{
		Code:      code,
		Message:   message,
		Raw:       raw,
		Logs:      logs,
		collision: isCollision(raw, logs),
	}
}

func fromRPCError(e *ledger.RPCError) *ProgramError {
	return newProgramError(e.Code, e.Message, e.DataErr(), e.Logs())
}
