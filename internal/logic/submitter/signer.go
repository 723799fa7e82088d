package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"dao-voting-sol/internal/types"
)

// Signer 外部签名方。PublicKey 必须在签名前同步可用
type Signer interface {
	PublicKey() types.Pubkey
	SignTransaction(ctx context.Context, msg sdktypes.Message) (sdktypes.Transaction, error)
}

// Broadcaster 自行广播的签名方（例如钱包），实现后由它代替账本广播
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error)
}

// KeypairSigner 本地密钥签名
type KeypairSigner struct {
	account sdktypes.Account
}

func NewKeypairSigner(account sdktypes.Account) *KeypairSigner {
	return &KeypairSigner{account: account}
}

// NewRandomSigner 随机生成密钥，仅用于测试
func NewRandomSigner() *KeypairSigner {
	return &KeypairSigner{account: sdktypes.NewAccount()}
}

// KeypairSignerFromBase58 解析 base58 编码的 64 字节私钥
func KeypairSignerFromBase58(s string) (*KeypairSigner, error) {
	acct, err := sdktypes.AccountFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("parse base58 keypair: %w", err)
	}
	return &KeypairSigner{account: acct}, nil
}

// LoadKeypairFile 读取 solana-keygen 生成的 JSON 数组格式密钥文件
func LoadKeypairFile(path string) (*KeypairSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	var secret []byte
	if err := json.Unmarshal(raw, &secret); err != nil {
		return nil, fmt.Errorf("decode keypair file %s: %w", path, err)
	}
	acct, err := sdktypes.AccountFromBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("keypair file %s: %w", path, err)
	}
	return &KeypairSigner{account: acct}, nil
}

func (k *KeypairSigner) PublicKey() types.Pubkey {
	return types.PubkeyFromSdk(k.account.PublicKey)
}

func (k *KeypairSigner) SignTransaction(_ context.Context, msg sdktypes.Message) (sdktypes.Transaction, error) {
	tx, err := sdktypes.NewTransaction(sdktypes.NewTransactionParam{
		Message: msg,
		Signers: []sdktypes.Account{k.account},
	})
	if err != nil {
		return sdktypes.Transaction{}, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
