package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/types"
)

// nodeReply 一个 JSON-RPC 方法的固定应答，result 与 error 均为原始 JSON
type nodeReply struct {
	result string
	error  string
}

// fakeNode 按方法名返回固定应答的 JSON-RPC 节点，并记录每个方法最近一次的参数
type fakeNode struct {
	*httptest.Server
	mu     sync.Mutex
	params map[string]string
}

func newFakeNode(t *testing.T, replies map[string]nodeReply) *fakeNode {
	t.Helper()
	n := &fakeNode{params: make(map[string]string)}
	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.params[req.Method] = string(req.Params)
		n.mu.Unlock()

		reply, ok := replies[req.Method]
		if !ok {
			http.Error(w, "unexpected method "+req.Method, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if reply.error != "" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":%s}`, req.ID, reply.error)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, reply.result)
	}))
	t.Cleanup(n.Close)
	return n
}

func (n *fakeNode) lastParams(method string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params[method]
}

func (n *fakeNode) ledger() *RPCLedger {
	return NewRPCLedger(n.URL, CommitmentConfirmed)
}

func signedTx(t *testing.T, payer sdktypes.Account) sdktypes.Transaction {
	t.Helper()
	tx, err := sdktypes.NewTransaction(sdktypes.NewTransactionParam{
		Message: sdktypes.NewMessage(sdktypes.NewMessageParam{
			FeePayer:        payer.PublicKey,
			RecentBlockhash: types.Pubkey{7}.String(),
			Instructions: []sdktypes.Instruction{{
				ProgramID: consts.DefaultDaoProgram.ToSdk(),
				Accounts:  []sdktypes.AccountMeta{{PubKey: payer.PublicKey, IsSigner: true, IsWritable: true}},
				Data:      []byte{1, 2, 3},
			}},
		}),
		Signers: []sdktypes.Account{payer},
	})
	require.NoError(t, err)
	return tx
}

func TestRPCLedgerGetAccount(t *testing.T) {
	owner := consts.DefaultDaoProgram
	node := newFakeNode(t, map[string]nodeReply{
		"getAccountInfo": {result: fmt.Sprintf(
			`{"context":{"slot":9},"value":{"data":["AQID","base64"],"executable":false,"lamports":1000,"owner":%q,"rentEpoch":0}}`,
			owner.String())},
	})
	addr := types.Pubkey{1}
	acct, err := node.ledger().GetAccount(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, acct.Address)
	assert.Equal(t, owner, acct.Owner)
	assert.Equal(t, uint64(1000), acct.Lamports)
	assert.Equal(t, []byte{1, 2, 3}, acct.Data)
	assert.Contains(t, node.lastParams("getAccountInfo"), `"commitment":"confirmed"`)

	missing := newFakeNode(t, map[string]nodeReply{
		"getAccountInfo": {result: `{"context":{"slot":9},"value":null}`},
	})
	_, err = missing.ledger().GetAccount(context.Background(), addr)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRPCLedgerBlocks(t *testing.T) {
	node := newFakeNode(t, map[string]nodeReply{
		"getLatestBlockhash": {result: `{"context":{"slot":9},"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":3090}}`},
		"getBlockHeight":     {result: `2940`},
	})
	l := node.ledger()

	ref, err := l.LatestBlockRef(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BlockRef{Blockhash: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", LastValidBlockHeight: 3090}, ref)

	h, err := l.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2940), h)
	assert.Contains(t, node.lastParams("getBlockHeight"), `"commitment":"confirmed"`)

	failing := newFakeNode(t, map[string]nodeReply{
		"getBlockHeight": {error: `{"code":-32005,"message":"Node is behind by 42 slots"}`},
	})
	_, err = failing.ledger().BlockHeight(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32005, rpcErr.Code)
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestRPCLedgerSendTransaction(t *testing.T) {
	payer := sdktypes.NewAccount()
	tx := signedTx(t, payer)

	ok := newFakeNode(t, map[string]nodeReply{"sendTransaction": {result: `"5sig"`}})
	sig, err := ok.ledger().SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "5sig", sig)
	assert.Contains(t, ok.lastParams("sendTransaction"), `"encoding":"base64"`)

	dup := newFakeNode(t, map[string]nodeReply{"sendTransaction": {error: `{"code":-32002,` +
		`"message":"Transaction simulation failed: This transaction has already been processed",` +
		`"data":{"err":"AlreadyProcessed","logs":[]}}`}})
	_, err = dup.ledger().SendTransaction(context.Background(), tx)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeSendTransactionPreflightFailure, rpcErr.Code)
	assert.Equal(t, "AlreadyProcessed", rpcErr.DataErr())
	assert.Empty(t, rpcErr.Logs())
	assert.NotErrorIs(t, err, ErrNetwork)

	preflight := newFakeNode(t, map[string]nodeReply{"sendTransaction": {error: `{"code":-32002,` +
		`"message":"Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1771",` +
		`"data":{"err":{"InstructionError":[0,{"Custom":6001}]},"logs":["Program log: AnchorError occurred. Error Code: AlreadyVoted."]}}`}})
	_, err = preflight.ledger().SendTransaction(context.Background(), tx)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, []string{"Program log: AnchorError occurred. Error Code: AlreadyVoted."}, rpcErr.Logs())
	assert.NotNil(t, rpcErr.DataErr())
}

func TestRPCLedgerSignatureStatus(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  *TxStatus
	}{
		{
			name:  "confirmation status",
			value: `{"slot":7,"confirmations":null,"confirmationStatus":"finalized","err":null}`,
			want:  &TxStatus{Slot: 7, Confirmation: CommitmentFinalized},
		},
		{
			name:  "legacy node with confirmations",
			value: `{"slot":7,"confirmations":3,"err":null}`,
			want:  &TxStatus{Slot: 7, Confirmation: CommitmentConfirmed},
		},
		{
			name:  "legacy node rooted",
			value: `{"slot":7,"confirmations":null,"err":null}`,
			want:  &TxStatus{Slot: 7, Confirmation: CommitmentFinalized},
		},
		{
			name:  "unknown signature",
			value: `null`,
			want:  nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := newFakeNode(t, map[string]nodeReply{
				"getSignatureStatuses": {result: `{"context":{"slot":9},"value":[` + tc.value + `]}`},
			})
			st, err := node.ledger().SignatureStatus(context.Background(), "5sig")
			require.NoError(t, err)
			assert.Equal(t, tc.want, st)
		})
	}

	t.Run("landed with error", func(t *testing.T) {
		node := newFakeNode(t, map[string]nodeReply{
			"getSignatureStatuses": {result: `{"context":{"slot":9},"value":[` +
				`{"slot":7,"confirmations":1,"confirmationStatus":"confirmed","err":{"InstructionError":[0,{"Custom":6001}]}}]}`},
		})
		st, err := node.ledger().SignatureStatus(context.Background(), "5sig")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, CommitmentConfirmed, st.Confirmation)
		assert.NotNil(t, st.Err)
	})

	t.Run("history search", func(t *testing.T) {
		node := newFakeNode(t, map[string]nodeReply{
			"getSignatureStatuses": {result: `{"context":{"slot":9},"value":[null]}`},
		})
		l := node.ledger()

		_, err := l.SignatureStatus(context.Background(), "5sig")
		require.NoError(t, err)
		assert.NotContains(t, node.lastParams("getSignatureStatuses"), "searchTransactionHistory")

		_, err = l.HistoricalSignatureStatus(context.Background(), "5sig")
		require.NoError(t, err)
		assert.Contains(t, node.lastParams("getSignatureStatuses"), `"searchTransactionHistory":true`)
	})
}

func TestRPCLedgerGetTransaction(t *testing.T) {
	payer := sdktypes.NewAccount()
	tx := signedTx(t, payer)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	node := newFakeNode(t, map[string]nodeReply{
		"getTransaction": {result: fmt.Sprintf(`{"slot":42,"blockTime":1700000000,`+
			`"meta":{"err":null,"fee":5000,"preBalances":[],"postBalances":[],"logMessages":["Program log: Instruction: CastVote"]},`+
			`"transaction":[%q,"base64"]}`, base64.StdEncoding.EncodeToString(raw))},
	})
	summary, err := node.ledger().GetTransaction(context.Background(), "5sig")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "5sig", summary.Signature)
	assert.Equal(t, uint64(42), summary.Slot)
	assert.Equal(t, types.PubkeyFromSdk(payer.PublicKey), summary.FeePayer)
	assert.Equal(t, []string{"Program log: Instruction: CastVote"}, summary.Logs)
	assert.Nil(t, summary.Err)

	missing := newFakeNode(t, map[string]nodeReply{"getTransaction": {result: `null`}})
	summary, err = missing.ledger().GetTransaction(context.Background(), "5sig")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestRPCLedgerSignaturesForAddress(t *testing.T) {
	node := newFakeNode(t, map[string]nodeReply{
		"getSignaturesForAddress": {result: `[` +
			`{"signature":"a","slot":3,"blockTime":1700000000,"err":null,"memo":null},` +
			`{"signature":"b","slot":2,"blockTime":null,"err":{"InstructionError":[0,{"Custom":6000}]},"memo":null}]`},
	})
	sigs, err := node.ledger().SignaturesForAddress(context.Background(), types.Pubkey{1}, 10)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "a", sigs[0].Signature)
	assert.False(t, sigs[0].Failed)
	assert.True(t, sigs[1].Failed)
	assert.Nil(t, sigs[1].BlockTime)
	assert.Contains(t, node.lastParams("getSignaturesForAddress"), `"limit":10`)
}

func TestRPCLedgerTransportErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		node := newFakeNode(t, nil)
		_, err := node.ledger().BlockHeight(context.Background())
		assert.ErrorIs(t, err, ErrNetwork)
	})

	t.Run("canceled", func(t *testing.T) {
		node := newFakeNode(t, map[string]nodeReply{"getBlockHeight": {result: `1`}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := node.ledger().BlockHeight(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrNetwork)
	})
}

func TestWrapRPC(t *testing.T) {
	ctx := context.Background()

	t.Run("json rpc error", func(t *testing.T) {
		src := &rpc.JsonRpcError{
			Code:    -32002,
			Message: "Transaction simulation failed: This transaction has already been processed",
		}
		err := wrapRPC(ctx, "sendTransaction", fmt.Errorf("client: %w", src))

		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, -32002, rpcErr.Code)
		assert.Contains(t, rpcErr.Error(), "already been processed")
		assert.False(t, errors.Is(err, ErrNetwork))
	})

	t.Run("transport error", func(t *testing.T) {
		err := wrapRPC(ctx, "getAccountInfo", errors.New("dial tcp: connection refused"))
		assert.ErrorIs(t, err, ErrNetwork)
		assert.Contains(t, err.Error(), "getAccountInfo")
	})

	t.Run("context", func(t *testing.T) {
		err := wrapRPC(ctx, "getBlockHeight", context.DeadlineExceeded)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrNetwork)
	})
}

func TestRPCErrorData(t *testing.T) {
	e := &RPCError{
		Code:    CodeSendTransactionPreflightFailure,
		Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x0",
		Data: map[string]any{
			"err":  map[string]any{"InstructionError": []any{float64(0), map[string]any{"Custom": float64(0)}}},
			"logs": []any{"Program 11111111111111111111111111111111 invoke [2]", 42},
		},
	}
	assert.Equal(t, []string{"Program 11111111111111111111111111111111 invoke [2]"}, e.Logs())
	assert.NotNil(t, e.DataErr())
	assert.Contains(t, e.Error(), `"Custom":0`)

	bare := &RPCError{Code: -32603, Message: "internal"}
	assert.Nil(t, bare.Logs())
	assert.Nil(t, bare.DataErr())
	assert.Equal(t, "rpc error -32603: internal", bare.Error())
}
