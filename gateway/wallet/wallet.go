package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoAccounts     = errors.New("wallet has no accounts")
	ErrUnknownAccount = errors.New("account is not managed by this wallet")
)

// Signer はトランザクションに署名するアカウント
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Provider はブラウザのウォレット拡張に相当する。アカウントへのアクセスと署名者を提供する
type Provider interface {
	// RequestAccounts は利用可能なアカウントを返す
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Signer は指定アカウントのロックを解除して署名者を返す
	Signer(ctx context.Context, account common.Address) (Signer, error)
}

// ===============================================
// 実装: KeystoreProvider (Ethereum v3 keystore)
// ===============================================

type KeystoreProvider struct {
	ks         *keystore.KeyStore
	passphrase string
}

// OpenKeystore は keystore ディレクトリを開く
func OpenKeystore(dir string) *keystore.KeyStore {
	return keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
}

func NewKeystoreProvider(ks *keystore.KeyStore, passphrase string) *KeystoreProvider {
	return &KeystoreProvider{ks: ks, passphrase: passphrase}
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accts := p.ks.Accounts()
	if len(accts) == 0 {
		return nil, ErrNoAccounts
	}
	addrs := make([]common.Address, 0, len(accts))
	for _, a := range accts {
		addrs = append(addrs, a.Address)
	}
	return addrs, nil
}

func (p *KeystoreProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	acct, err := p.ks.Find(accounts.Account{Address: account})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	// パスフレーズが違う場合はここで拒否される
	if err := p.ks.Unlock(acct, p.passphrase); err != nil {
		return nil, fmt.Errorf("unlock %s: %w", account.Hex(), err)
	}
	return &keystoreSigner{ks: p.ks, account: acct}, nil
}

type keystoreSigner struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

func (s *keystoreSigner) Address() common.Address {
	return s.account.Address
}

func (s *keystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.ks.SignTx(s.account, tx, chainID)
}

// ===============================================
// 実装: KeyProvider (16進の秘密鍵ひとつ)
// ===============================================

type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyProvider は16進文字列の秘密鍵からプロバイダを作成 ("0x" 付きでも可)
func NewKeyProvider(hexKey string) (*KeyProvider, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key required")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyProvider{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	if account != p.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	return &keySigner{key: p.key, address: p.address}, nil
}

type keySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *keySigner) Address() common.Address {
	return s.address
}

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
