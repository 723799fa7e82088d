package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dao-voting-sol/internal/cache"
	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/ledger"
	"dao-voting-sol/internal/logic/codec"
	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/instruction"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/types"
)

var program = consts.DefaultDaoProgram

func seedDao(t *testing.T, mem *ledger.MemLedger, count uint64) {
	t.Helper()
	addr, bump, err := pda.DaoStateAddress(program)
	require.NoError(t, err)
	data, err := codec.EncodeDaoState(&domain.DaoState{Authority: types.Pubkey{9}, Name: "dao", ProposalCount: count, Bump: bump})
	require.NoError(t, err)
	mem.SetAccount(addr, data)
}

func seedProposal(t *testing.T, mem *ledger.MemLedger, id uint64) types.Pubkey {
	t.Helper()
	addr, bump, err := pda.ProposalAddress(program, id)
	require.NoError(t, err)
	data, err := codec.EncodeProposal(&domain.Proposal{
		ID:        id,
		Creator:   types.Pubkey{9},
		Title:     fmt.Sprintf("proposal %d", id),
		Status:    domain.StatusActive,
		CreatedAt: 1_700_000_000,
		ExpiresAt: 1_700_086_400,
		Bump:      bump,
	})
	require.NoError(t, err)
	// 链上账户带尾部零填充
	mem.SetAccount(addr, append(data, make([]byte, 64)...))
	return addr
}

func ids(ps []*domain.Proposal) []uint64 {
	out := make([]uint64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestListProposalsSkipsHoles(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	seedDao(t, mem, 5)
	for _, id := range []uint64{0, 1, 3, 4} {
		seedProposal(t, mem, id)
	}

	repo := New(mem, program, WithConcurrency(3))
	list, err := repo.ListProposals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 3, 4}, ids(list))
}

func TestListProposalsVisibilityLag(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	seedDao(t, mem, 5)
	var lagging types.Pubkey
	for id := uint64(0); id < 5; id++ {
		addr := seedProposal(t, mem, id)
		if id == 2 {
			lagging = addr
		}
	}
	mem.HideAccount(lagging, 1)

	repo := New(mem, program)
	list, err := repo.ListProposals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 3, 4}, ids(list))

	// 下一轮读取时已可见
	list, err = repo.ListProposals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, ids(list))
}

func TestListProposalsSkipsUndecodable(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	seedDao(t, mem, 4)
	for id := uint64(0); id < 4; id++ {
		seedProposal(t, mem, id)
	}
	bad, _, _ := pda.ProposalAddress(program, 1)
	mem.SetAccount(bad, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	truncated, _, _ := pda.ProposalAddress(program, 2)
	mem.SetAccount(truncated, consts.ProposalDiscriminator[:])

	list, err := New(mem, program).ListProposals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 3}, ids(list))
}

func TestListProposalsUninitialized(t *testing.T) {
	repo := New(ledger.NewMemLedger(program), program)
	dao, err := repo.FetchDaoState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, dao)

	list, err := repo.ListProposals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListProposalsCountLimit(t *testing.T) {
	ctx := context.Background()
	for _, count := range []uint64{1 << 62, 1<<63 + 5, DefaultMaxListCount + 1} {
		mem := ledger.NewMemLedger(program)
		seedDao(t, mem, count)
		list, err := New(mem, program).ListProposals(ctx)
		assert.ErrorIs(t, err, ErrProposalCountTooLarge, "count=%d", count)
		assert.Nil(t, list)
	}

	mem := ledger.NewMemLedger(program)
	seedDao(t, mem, 3)
	for id := uint64(0); id < 3; id++ {
		seedProposal(t, mem, id)
	}
	list, err := New(mem, program, WithMaxListCount(3)).ListProposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, ids(list))

	seedDao(t, mem, 4)
	_, err = New(mem, program, WithMaxListCount(3)).ListProposals(ctx)
	assert.ErrorIs(t, err, ErrProposalCountTooLarge)
}

type flakyLedger struct {
	*ledger.MemLedger
	fail types.Pubkey
}

func (f *flakyLedger) GetAccount(ctx context.Context, addr types.Pubkey) (*ledger.AccountData, error) {
	if addr == f.fail {
		return nil, fmt.Errorf("%w: getAccountInfo: i/o timeout", ledger.ErrNetwork)
	}
	return f.MemLedger.GetAccount(ctx, addr)
}

func TestListProposalsPropagatesNetworkError(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	seedDao(t, mem, 3)
	for id := uint64(0); id < 3; id++ {
		seedProposal(t, mem, id)
	}
	failing, _, _ := pda.ProposalAddress(program, 1)

	_, err := New(&flakyLedger{MemLedger: mem, fail: failing}, program).ListProposals(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNetwork)
}

func TestFetchProposal(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	seedProposal(t, mem, 7)
	repo := New(mem, program)

	p, err := repo.FetchProposal(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "proposal 7", p.Title)

	_, err = repo.FetchProposal(context.Background(), 8)
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestFetchProposalIDMismatch(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	src := seedProposal(t, mem, 3)
	acct, err := mem.GetAccount(context.Background(), src)
	require.NoError(t, err)
	dst, _, _ := pda.ProposalAddress(program, 4)
	mem.SetAccount(dst, acct.Data)

	_, err = New(mem, program).FetchProposal(context.Background(), 4)
	assert.True(t, codec.IsDecodeError(err))
}

func TestFetchVoteRecord(t *testing.T) {
	mem := ledger.NewMemLedger(program)
	repo := New(mem, program)
	voter := types.Pubkey{7}

	rec, err := repo.FetchVoteRecord(context.Background(), 7, voter)
	require.NoError(t, err)
	assert.Nil(t, rec, "absent means not voted")

	propAddr, _, _ := pda.ProposalAddress(program, 7)
	addr, bump, _ := pda.VoteRecordAddress(program, propAddr, voter)
	data, err := codec.EncodeVoteRecord(&domain.VoteRecord{Voter: voter, ProposalID: 7, Choice: domain.ChoiceAbstain, Timestamp: 5, Bump: bump})
	require.NoError(t, err)
	mem.SetAccount(addr, data)

	rec, err = repo.FetchVoteRecord(context.Background(), 7, voter)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ChoiceAbstain, rec.Choice)
	assert.Equal(t, voter, rec.Voter)
}

func TestRepositoryCache(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemLedger(program)
	mc, err := cache.NewMemoryCache(time.Minute, 16)
	require.NoError(t, err)
	repo := New(mem, program, WithCache(mc), WithFetchTimeout(time.Second))

	// 不存在的结果不缓存
	_, err = repo.FetchProposal(ctx, 0)
	require.ErrorIs(t, err, ErrProposalNotFound)
	addr := seedProposal(t, mem, 0)
	p, err := repo.FetchProposal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), p.ID)

	// 命中缓存
	mem.DeleteAccount(addr)
	_, err = repo.FetchProposal(ctx, 0)
	require.NoError(t, err)

	repo.Invalidate(ctx, addr)
	_, err = repo.FetchProposal(ctx, 0)
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func sendAs(t *testing.T, mem *ledger.MemLedger, signer sdktypes.Account) func(sdktypes.Instruction, error) string {
	return func(ix sdktypes.Instruction, err error) string {
		t.Helper()
		require.NoError(t, err)
		ref, err := mem.LatestBlockRef(context.Background())
		require.NoError(t, err)
		tx, err := sdktypes.NewTransaction(sdktypes.NewTransactionParam{
			Message: sdktypes.NewMessage(sdktypes.NewMessageParam{
				FeePayer:        signer.PublicKey,
				RecentBlockhash: ref.Blockhash,
				Instructions:    []sdktypes.Instruction{ix},
			}),
			Signers: []sdktypes.Account{signer},
		})
		require.NoError(t, err)
		sig, err := mem.SendTransaction(context.Background(), tx)
		require.NoError(t, err)
		return sig
	}
}

func TestProposalVoters(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemLedger(program)
	b := instruction.NewBuilder(program)
	admin, alice, bob := sdktypes.NewAccount(), sdktypes.NewAccount(), sdktypes.NewAccount()
	pk := func(a sdktypes.Account) types.Pubkey { return types.PubkeyFromSdk(a.PublicKey) }

	sendAs(t, mem, admin)(b.Initialize(pk(admin), "dao"))
	sendAs(t, mem, admin)(b.CreateProposal(pk(admin), 0, "a", "", 60))
	sendAs(t, mem, alice)(b.CastVote(pk(alice), 0, domain.ChoiceYes))
	sendAs(t, mem, bob)(b.CastVote(pk(bob), 0, domain.ChoiceNo))

	voters, err := New(mem, program).ProposalVoters(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, voters, 2)
	got := map[types.Pubkey]domain.VoteChoice{}
	for _, v := range voters {
		got[v.Voter] = v.Choice
	}
	assert.Equal(t, map[types.Pubkey]domain.VoteChoice{pk(alice): domain.ChoiceYes, pk(bob): domain.ChoiceNo}, got)

	none, err := New(mem, program).ProposalVoters(ctx, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, none)
}
