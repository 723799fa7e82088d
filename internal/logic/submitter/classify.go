package submitter

import (
	"encoding/json"
	"errors"
	"strings"

	"dao-voting-sol/internal/ledger"
)

// duplicateMarkers 节点未返回结构化错误时，按错误文本识别重复提交
var duplicateMarkers = []string{
	"already been processed",
	"AlreadyProcessed",
}

const (
	// 系统程序 create_account 的 AccountAlreadyInUse
	codeAccountAlreadyInUse = 0
	// Anchor ConstraintSeeds：传入地址与按当前状态派生的地址不一致
	codeConstraintSeeds = 2006
)

// isDuplicate 优先使用结构化的 data.err，再回退到文本匹配
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *ledger.RPCError
	if errors.As(err, &rpcErr) {
		if s, ok := rpcErr.DataErr().(string); ok && s == "AlreadyProcessed" {
			return true
		}
		if hasDuplicateMarker(rpcErr.Message) {
			return true
		}
	}
	return hasDuplicateMarker(err.Error())
}

func hasDuplicateMarker(msg string) bool {
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isCollision 地址已被占用：系统程序日志 "already in use"、Custom(0) 或 ConstraintSeeds
func isCollision(raw any, logs []string) bool {
	for _, l := range logs {
		if strings.Contains(l, "already in use") {
			return true
		}
	}
	code, ok := instructionErrorCode(raw)
	return ok && (code == codeAccountAlreadyInUse || code == codeConstraintSeeds)
}

// instructionErrorCode 解析 {"InstructionError":[idx,{"Custom":code}]}
func instructionErrorCode(raw any) (uint32, bool) {
	if raw == nil {
		return 0, false
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return 0, false
	}
	var outer struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(buf, &outer); err != nil || len(outer.InstructionError) != 2 {
		return 0, false
	}
	var inner struct {
		Custom *uint32 `json:"Custom"`
	}
	if err := json.Unmarshal(outer.InstructionError[1], &inner); err != nil || inner.Custom == nil {
		return 0, false
	}
	return *inner.Custom, true
}
