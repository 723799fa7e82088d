package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/types"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrAddressSpaceExhausted 256 个 bump 全部落在曲线上（实际不可达）
	ErrAddressSpaceExhausted = errors.New("pda: unable to find a viable program address bump seed")
	ErrMaxSeedLength         = errors.New("pda: seed exceeds limits")
	ErrOnCurve               = errors.New("pda: derived address is on the ed25519 curve")
)

// Derive 从 bump=255 向下尝试，返回第一个不在 ed25519 曲线上的地址及其 bump。
// 纯函数，相同输入永远得到相同输出。
func Derive(seeds [][]byte, program types.Pubkey) (types.Pubkey, uint8, error) {
	if err := checkSeeds(seeds, 1); err != nil {
		return types.Pubkey{}, 0, err
	}

	bump := [1]byte{}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = bump[:]

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		addr := hashSeeds(withBump, program)
		if !IsOnCurve(addr) {
			return addr, uint8(b), nil
		}
	}
	return types.Pubkey{}, 0, ErrAddressSpaceExhausted
}

// CreateAddress 按给定 seeds（已包含 bump）计算地址，结果在曲线上时返回 ErrOnCurve
func CreateAddress(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	if err := checkSeeds(seeds, 0); err != nil {
		return types.Pubkey{}, err
	}
	addr := hashSeeds(seeds, program)
	if IsOnCurve(addr) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// IsOnCurve 判断 32 字节是否为合法的 ed25519 点（即可能对应某个私钥）
func IsOnCurve(p types.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// reserve 为 bump 预留的 seed 个数
func checkSeeds(seeds [][]byte, reserve int) error {
	if len(seeds)+reserve > MaxSeeds {
		return fmt.Errorf("%w: %d seeds, max %d", ErrMaxSeedLength, len(seeds)+reserve, MaxSeeds)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return fmt.Errorf("%w: seed #%d has %d bytes, max %d", ErrMaxSeedLength, i, len(s), MaxSeedLength)
		}
	}
	return nil
}

func hashSeeds(seeds [][]byte, program types.Pubkey) types.Pubkey {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var out types.Pubkey
	copy(out[:], h.Sum(nil))
	return out
}

// ---- dao_program 的 seed 约定 ----

func DaoStateSeeds() [][]byte {
	return [][]byte{[]byte(consts.SeedDaoState)}
}

func ProposalSeeds(id uint64) [][]byte {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], id)
	return [][]byte{[]byte(consts.SeedProposal), le[:]}
}

// VoteRecordSeeds 以 (proposal, voter) 为种子，保证同一 voter 对同一提案至多一条投票记录
func VoteRecordSeeds(proposal, voter types.Pubkey) [][]byte {
	return [][]byte{[]byte(consts.SeedVote), proposal[:], voter[:]}
}

func DaoStateAddress(program types.Pubkey) (types.Pubkey, uint8, error) {
	return Derive(DaoStateSeeds(), program)
}

func ProposalAddress(program types.Pubkey, id uint64) (types.Pubkey, uint8, error) {
	return Derive(ProposalSeeds(id), program)
}

func VoteRecordAddress(program, proposal, voter types.Pubkey) (types.Pubkey, uint8, error) {
	return Derive(VoteRecordSeeds(proposal, voter), program)
}
