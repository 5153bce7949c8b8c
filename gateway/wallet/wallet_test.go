package wallet

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedTx() *types.Transaction {
	to := common.HexToAddress("0x44d1132FB0d12DcC9dea35c0827AB46102797a79")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(11155111),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
}

func TestKeyProvider_SignsWithConfiguredKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	p, err := NewKeyProvider("0x" + hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)

	accts, err := p.RequestAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []common.Address{want}, accts)

	signer, err := p.Signer(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want, signer.Address())

	chainID := big.NewInt(11155111)
	signed, err := signer.SignTx(unsignedTx(), chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, want, from)
}

func TestKeyProvider_RejectsOtherAccount(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := NewKeyProvider(hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)

	_, err = p.Signer(context.Background(), common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestNewKeyProvider_InvalidKey(t *testing.T) {
	_, err := NewKeyProvider("")
	require.Error(t, err)

	_, err = NewKeyProvider("not-hex")
	require.Error(t, err)
}

func TestKeystoreProvider(t *testing.T) {
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)

	t.Run("no accounts", func(t *testing.T) {
		p := NewKeystoreProvider(ks, "pw")
		_, err := p.RequestAccounts(context.Background())
		require.ErrorIs(t, err, ErrNoAccounts)
	})

	acct, err := ks.NewAccount("pw")
	require.NoError(t, err)

	t.Run("unlock and sign", func(t *testing.T) {
		p := NewKeystoreProvider(ks, "pw")
		accts, err := p.RequestAccounts(context.Background())
		require.NoError(t, err)
		require.Contains(t, accts, acct.Address)

		signer, err := p.Signer(context.Background(), acct.Address)
		require.NoError(t, err)

		chainID := big.NewInt(11155111)
		signed, err := signer.SignTx(unsignedTx(), chainID)
		require.NoError(t, err)
		from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, acct.Address, from)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		p := NewKeystoreProvider(ks, "wrong")
		_, err := p.Signer(context.Background(), acct.Address)
		require.Error(t, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		p := NewKeystoreProvider(ks, "pw")
		_, err := p.Signer(context.Background(), common.HexToAddress("0x02"))
		require.ErrorIs(t, err, ErrUnknownAccount)
	})
}
