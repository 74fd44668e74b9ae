package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet wraps the bot's secp256k1 key and signs transactions for a fixed
// chain ID.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	signer     types.Signer
}

// NewWallet creates a Wallet from a hex-encoded private key and the target
// chain ID.
func NewWallet(privateKeyHex string, chainID int64) (*Wallet, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: invalid private key: %w", err)
	}

	id := big.NewInt(chainID)
	return &Wallet{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the Ethereum address derived from the wallet's key.
func (w *Wallet) Address() common.Address {
	return w.address
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// SignTx signs tx with the wallet's key.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: signing tx: %w", err)
	}
	return signed, nil
}

// HashDirection computes the position commitment the game contract expects:
// keccak256(abi.encode(uint256 gameID, uint8 direction, uint256 nonce)).
// The backend normally supplies this alongside its signature; this local
// computation is the fallback when the response omits it.
func HashDirection(gameID uint64, direction uint8, nonce uint64) common.Hash {
	buf := make([]byte, 0, 96)
	buf = append(buf, bigIntTo32Bytes(new(big.Int).SetUint64(gameID))...)
	buf = append(buf, common.LeftPadBytes([]byte{direction}, 32)...)
	buf = append(buf, bigIntTo32Bytes(new(big.Int).SetUint64(nonce))...)
	return common.BytesToHash(ethcrypto.Keccak256(buf))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
