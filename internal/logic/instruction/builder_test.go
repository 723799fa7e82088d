package instruction

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dao-voting-sol/internal/logic/codec"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/types"
)

var (
	testProgram = types.PubkeyFromBase58("5RzYB945gtiaM3k2WjiuhptSNQ8M3VmXQbBmJsSTCwC5")
	testUser    = types.PubkeyFromBase58("4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw")
)

const (
	daoStateAddr  = "7gZKZq6Y6yf71CMzixgRHn3bJ34P6FD4VYAcxYhqvyx8"
	proposal3Addr = "4urvGwEDA6QLPc19bk5m4vjbhSz38ZDadSdmP2HKhxBM"
	proposal7Addr = "4agw8ccQNQ4wGKat1kavWiLv7oerPSFqVUo9v4cQ54wq"
	vote7Addr     = "GdKSgP9Re2ot7btBVM4Z8Baw1d2CcsHGR8smnNN914fr"
	systemAddr    = "11111111111111111111111111111111"
)

// fingerprint 把指令展开成固定格式的字节：
// program | u8(账户数) | (key | signer | writable)* | u32LE(len data) | data
func fingerprint(ix sdktypes.Instruction) []byte {
	out := append([]byte{}, ix.ProgramID.Bytes()...)
	out = append(out, byte(len(ix.Accounts)))
	for _, a := range ix.Accounts {
		out = append(out, a.PubKey.Bytes()...)
		out = append(out, boolByte(a.IsSigner), boolByte(a.IsWritable))
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ix.Data)))
	return append(out, ix.Data...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name+".hex"))
	require.NoError(t, err)
	b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	return b
}

type wantMeta struct {
	key      string
	signer   bool
	writable bool
}

func assertAccounts(t *testing.T, ix sdktypes.Instruction, want []wantMeta) {
	t.Helper()
	require.Len(t, ix.Accounts, len(want))
	for i, w := range want {
		assert.Equal(t, w.key, ix.Accounts[i].PubKey.ToBase58(), "account #%d", i)
		assert.Equal(t, w.signer, ix.Accounts[i].IsSigner, "account #%d signer", i)
		assert.Equal(t, w.writable, ix.Accounts[i].IsWritable, "account #%d writable", i)
	}
}

func TestInitialize(t *testing.T) {
	ix, err := NewBuilder(testProgram).Initialize(testUser, "Solana DAO")
	require.NoError(t, err)

	assert.Equal(t, testProgram.String(), ix.ProgramID.ToBase58())
	assertAccounts(t, ix, []wantMeta{
		{daoStateAddr, false, true},
		{testUser.String(), true, true},
		{systemAddr, false, false},
	})
	assert.Equal(t, loadFixture(t, "initialize"), fingerprint(ix))
}

func TestCreateProposal(t *testing.T) {
	ix, err := NewBuilder(testProgram).CreateProposal(testUser, 3, "Upgrade", "Move to v2", 7*24*3600)
	require.NoError(t, err)

	assertAccounts(t, ix, []wantMeta{
		{daoStateAddr, false, true},
		{proposal3Addr, false, true},
		{testUser.String(), true, true},
		{systemAddr, false, false},
	})
	assert.Equal(t, loadFixture(t, "create_proposal"), fingerprint(ix))

	_, err = NewBuilder(testProgram).CreateProposal(testUser, 3, strings.Repeat("x", 101), "", 1)
	assert.ErrorIs(t, err, codec.ErrFieldTooLong)
}

func TestCastVote(t *testing.T) {
	ix, err := NewBuilder(testProgram).CastVote(testUser, 7, domain.ChoiceNo)
	require.NoError(t, err)

	assertAccounts(t, ix, []wantMeta{
		{proposal7Addr, false, true},
		{vote7Addr, false, true},
		{testUser.String(), true, true},
		{systemAddr, false, false},
	})
	assert.Equal(t, loadFixture(t, "cast_vote"), fingerprint(ix))

	_, err = NewBuilder(testProgram).CastVote(testUser, 7, domain.VoteChoice(5))
	assert.ErrorIs(t, err, codec.ErrInvalidEnumTag)
}

func TestFinalizeProposal(t *testing.T) {
	ix, err := NewBuilder(testProgram).FinalizeProposal(testUser, 7)
	require.NoError(t, err)
	assertAccounts(t, ix, []wantMeta{
		{daoStateAddr, false, false},
		{proposal7Addr, false, true},
		{testUser.String(), true, false},
	})
	assert.Equal(t, loadFixture(t, "finalize_proposal"), fingerprint(ix))

	legacy, err := NewBuilder(testProgram, WithDaoStateOnFinalize(false)).FinalizeProposal(testUser, 7)
	require.NoError(t, err)
	assertAccounts(t, legacy, []wantMeta{
		{proposal7Addr, false, true},
		{testUser.String(), true, false},
	})
	assert.Equal(t, loadFixture(t, "finalize_proposal_legacy"), fingerprint(legacy))
}
