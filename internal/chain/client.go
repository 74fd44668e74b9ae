// Package chain submits game transactions and reads pool and game state
// through an Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/crypto"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

const gasPriceCacheTTL = 30 * time.Second

// maxFeeBumps bounds how many times an underpriced transaction is re-sent
// with a raised fee before giving up.
const maxFeeBumps = 3

// Client wraps an ethclient connection with the bot wallet and the game
// contract address.
type Client struct {
	eth      *ethclient.Client
	wallet   *crypto.Wallet
	contract common.Address
	cfg      config.ChainConfig
	logger   *slog.Logger

	mu           sync.Mutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewClient dials the RPC endpoint and returns a connected Client.
func NewClient(cfg config.ChainConfig, wallet *crypto.Wallet, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", cfg.RPCURL, err)
	}

	return &Client{
		eth:      eth,
		wallet:   wallet,
		contract: common.HexToAddress(cfg.GameContract),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Address returns the bot wallet address.
func (c *Client) Address() common.Address {
	return c.wallet.Address()
}

// call performs a read-only contract call against the game contract.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// submit packs, signs, and sends a transaction to the game contract and
// blocks until it is mined or the receipt timeout elapses. A reverted
// receipt or a revert during gas estimation is mapped onto the domain
// error taxonomy.
func (c *Client) submit(ctx context.Context, value *big.Int, callData []byte) (common.Hash, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.wallet.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: nonce: %w", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas price: %w", err)
	}

	gasEstimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.wallet.Address(),
		To:       &c.contract,
		Value:    value,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		// Estimation executes the call, so a revert surfaces here before
		// any gas is spent.
		return common.Hash{}, mapRevert(err)
	}
	// Add 20% buffer
	gasEstimate = gasEstimate * 12 / 10
	if c.cfg.GasLimitCap > 0 && gasEstimate > c.cfg.GasLimitCap {
		gasEstimate = c.cfg.GasLimitCap
	}

	tx := types.NewTransaction(nonce, c.contract, value, gasEstimate, gasPrice, callData)
	signed, err := c.wallet.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}

	sendErr := c.eth.SendTransaction(ctx, signed)
	for bumps := 0; isUnderpriced(sendErr); bumps++ {
		if bumps == maxFeeBumps {
			return common.Hash{}, fmt.Errorf("chain: still underpriced after %d fee bumps: %w", maxFeeBumps, sendErr)
		}
		gasPrice = bumpFee(gasPrice)
		if c.cfg.MaxGasPriceGwei > 0 {
			maxWei := new(big.Int).SetUint64(uint64(c.cfg.MaxGasPriceGwei * 1e9))
			if gasPrice.Cmp(maxWei) > 0 {
				return common.Hash{}, fmt.Errorf("chain: fee bump exceeds max_gas_price_gwei: %w", sendErr)
			}
		}
		c.logger.Warn("transaction underpriced, resubmitting",
			slog.String("gas_price_wei", gasPrice.String()))
		tx = types.NewTransaction(nonce, c.contract, value, gasEstimate, gasPrice, callData)
		if signed, err = c.wallet.SignTx(tx); err != nil {
			return common.Hash{}, err
		}
		sendErr = c.eth.SendTransaction(ctx, signed)
		if sendErr == nil {
			// Later submissions start from the accepted price.
			c.mu.Lock()
			c.cachedGasWei = gasPrice
			c.gasUpdatedAt = time.Now()
			c.mu.Unlock()
		}
	}
	if sendErr != nil {
		return common.Hash{}, mapRevert(sendErr)
	}

	txHash := signed.Hash()
	c.logger.Info("transaction sent", slog.String("tx", txHash.Hex()))

	receiptCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout.Duration)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("chain: waiting for receipt of %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash, fmt.Errorf("chain: tx %s: %w", txHash.Hex(), domain.ErrTxReverted)
	}

	c.logger.Info("transaction confirmed",
		slog.String("tx", txHash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed))
	return txHash, nil
}

// gasPrice returns a buffered suggested gas price, cached briefly to avoid
// hammering the RPC, and capped by max_gas_price_gwei.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.Unlock()

	if cached != nil && time.Since(updatedAt) < gasPriceCacheTTL {
		return cached, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	// 10% buffer for faster inclusion.
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	if c.cfg.MaxGasPriceGwei > 0 {
		maxWei := new(big.Int).SetUint64(uint64(c.cfg.MaxGasPriceGwei * 1e9))
		if buffered.Cmp(maxWei) > 0 {
			buffered = maxWei
		}
	}

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	interval := c.cfg.PollInterval.Duration
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// isUnderpriced reports whether the node rejected the transaction for too
// low a fee.
func isUnderpriced(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "underpriced") || strings.Contains(msg, "fee too low")
}

// bumpFee raises a fee by 15%. A replacement transaction must raise the fee
// by at least 10% or the node drops it as a duplicate.
func bumpFee(p *big.Int) *big.Int {
	b := new(big.Int).Mul(p, big.NewInt(115))
	return b.Div(b, big.NewInt(100))
}

// mapRevert translates contract revert reasons onto domain sentinels so the
// orchestrator can tell "already done" and authorization failures apart
// from genuine rejections.
func mapRevert(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "GameNotInCreatedState"):
		return fmt.Errorf("chain: %s: %w", msg, domain.ErrAlreadyJoined)
	case strings.Contains(msg, "GameAlreadyEnded"):
		return fmt.Errorf("chain: %s: %w", msg, domain.ErrPositionClosed)
	case strings.Contains(msg, "InvalidSignature"),
		strings.Contains(msg, "InvalidHashedDirection"),
		strings.Contains(msg, "NotBackendCaller"):
		return fmt.Errorf("chain: %s: %w", msg, domain.ErrUnauthorized)
	case strings.Contains(msg, "revert"), strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("chain: %s: %w", msg, domain.ErrTxReverted)
	default:
		return fmt.Errorf("chain: send: %w", err)
	}
}
