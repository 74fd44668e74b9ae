package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector: the first Hardhat/Anvil dev account.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey_Roundtrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestEncryptKey_AcceptsPrefixedHex(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "pw")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("zznothex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw") // too short
	assert.Error(t, err)
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKey_RawTakesPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{
		RawPrivateKey:    "0x" + testKeyHex,
		EncryptedKeyPath: "/does/not/exist",
	})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadKey_FromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadKey_NoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestWallet_Address(t *testing.T) {
	w, err := NewWallet(testKeyHex, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), w.Address())
	assert.Equal(t, int64(1), w.ChainID().Int64())
}

func TestWallet_SignTx(t *testing.T) {
	w, err := NewWallet("0x"+testKeyHex, 8453)
	require.NoError(t, err)

	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})

	signed, err := w.SignTx(tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), signed)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender)
}

func TestHashDirection(t *testing.T) {
	h1 := HashDirection(42, 0, 777)
	h2 := HashDirection(42, 0, 777)
	assert.Equal(t, h1, h2)

	// Any input change produces a different commitment.
	assert.NotEqual(t, h1, HashDirection(43, 0, 777))
	assert.NotEqual(t, h1, HashDirection(42, 1, 777))
	assert.NotEqual(t, h1, HashDirection(42, 0, 778))
	assert.NotEqual(t, common.Hash{}, h1)
}
