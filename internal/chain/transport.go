package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// DefaultDeployGas is used when estimating a contract creation fails
	// for a reason other than a revert.
	DefaultDeployGas uint64 = 6_000_000
	// DefaultCallGas is the call counterpart of DefaultDeployGas.
	DefaultCallGas uint64 = 300_000
)

// MinGasPrice is the floor applied to suggested gas prices (2 gwei).
var MinGasPrice = big.NewInt(2_000_000_000)

// TxRequest describes a transaction to sign. A nil To creates a contract.
type TxRequest struct {
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// SignedTx is a signed, not yet broadcast transaction.
type SignedTx struct {
	Hash  common.Hash
	Nonce uint64
	From  common.Address
	To    *common.Address
	Raw   []byte
}

// TransportConfig tunes gas pricing and confirmation.
type TransportConfig struct {
	Confirmations         uint64
	PollInterval          time.Duration
	GasPriceBumpPercent   int
	GasLimitBufferPercent int
	Logger                *slog.Logger
}

// Transport signs and submits transactions from one account on one network.
// Nonces are assigned locally so that several transactions can be signed
// before any of them is mined.
type Transport struct {
	client  Client
	signer  Signer
	chainID *big.Int
	config  TransportConfig
	logger  *slog.Logger

	mu        sync.Mutex
	nextNonce *uint64
}

// NewTransport creates a Transport signing for chainID.
func NewTransport(client Client, signer Signer, chainID *big.Int, cfg TransportConfig) *Transport {
	if cfg.GasPriceBumpPercent < 100 {
		cfg.GasPriceBumpPercent = 150
	}
	if cfg.GasLimitBufferPercent < 0 {
		cfg.GasLimitBufferPercent = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client:  client,
		signer:  signer,
		chainID: new(big.Int).Set(chainID),
		config:  cfg,
		logger:  logger,
	}
}

// ChainID returns the chain ID reported by the node.
func (t *Transport) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := t.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	return id, nil
}

// Sender returns the signing account.
func (t *Transport) Sender() common.Address {
	return t.signer.Address()
}

// Sign prices, signs and returns req without broadcasting it. The nonce is
// reserved: the next call to Sign uses the following one.
func (t *Transport) Sign(ctx context.Context, req TxRequest) (*SignedTx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.signer.Address()
	nonce, err := t.nonceLocked(ctx, from)
	if err != nil {
		return nil, err
	}

	gasPrice, err := t.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit, err := t.estimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       req.To,
		GasPrice: gasPrice,
		Value:    value,
		Data:     req.Data,
	})
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       req.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signedTx, err := t.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	next := nonce + 1
	t.nextNonce = &next

	return &SignedTx{
		Hash:  signedTx.Hash(),
		Nonce: nonce,
		From:  from,
		To:    req.To,
		Raw:   raw,
	}, nil
}

func (t *Transport) nonceLocked(ctx context.Context, from common.Address) (uint64, error) {
	if t.nextNonce != nil {
		return *t.nextNonce, nil
	}
	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

// resetNonce drops the locally tracked nonce so the next Sign asks the node.
func (t *Transport) resetNonce() {
	t.mu.Lock()
	t.nextNonce = nil
	t.mu.Unlock()
}

func (t *Transport) gasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	boosted := new(big.Int).Mul(suggested, big.NewInt(int64(t.config.GasPriceBumpPercent)))
	boosted.Div(boosted, big.NewInt(100))
	if boosted.Cmp(MinGasPrice) < 0 {
		boosted = new(big.Int).Set(MinGasPrice)
	}
	return boosted, nil
}

func (t *Transport) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := t.client.EstimateGas(ctx, msg)
	if err != nil {
		if isRevert(err) {
			return 0, fmt.Errorf("estimate gas: %w", err)
		}
		gas = DefaultCallGas
		if msg.To == nil {
			gas = DefaultDeployGas
		}
		t.logger.Warn("gas estimation failed, using default",
			slog.Uint64("gas_limit", gas),
			slog.String("error", err.Error()),
		)
		return gas, nil
	}
	return gas + gas*uint64(t.config.GasLimitBufferPercent)/100, nil
}

// Broadcast sends a signed transaction. A transaction the node already
// knows is not an error. Errors wrapping ErrTxRejected mean the node
// answered and refused the transaction; any other error leaves it unknown
// whether the transaction reached the mempool.
func (t *Transport) Broadcast(ctx context.Context, raw []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrTxRejected, err)
	}

	if err := t.client.SendTransaction(ctx, tx); err != nil {
		if isKnownTransaction(err) {
			return nil
		}
		t.resetNonce()
		if isRejection(err) {
			return fmt.Errorf("%w: %v", ErrTxRejected, err)
		}
		return fmt.Errorf("send transaction %s: %w", tx.Hash().Hex(), err)
	}

	t.logger.Debug("transaction broadcast",
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)
	return nil
}

// WaitReceipt blocks until the transaction is mined and buried under the
// configured number of confirmations.
func (t *Transport) WaitReceipt(ctx context.Context, raw []byte) (*types.Receipt, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, t.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for transaction %s: %w", tx.Hash().Hex(), err)
	}

	if err := t.waitConfirmations(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (t *Transport) waitConfirmations(ctx context.Context, receipt *types.Receipt) error {
	if t.config.Confirmations <= 1 || receipt.BlockNumber == nil {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + t.config.Confirmations - 1

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()
	for {
		head, err := t.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get block number: %w", err)
		}
		if head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Receipt returns the receipt of a mined transaction, or
// ErrReceiptNotFound.
func (t *Transport) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := t.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("get receipt %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// NonceAt returns the number of mined transactions sent by account.
func (t *Transport) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := t.client.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

// CodeAt returns the runtime code at address in the latest block.
func (t *Transport) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	code, err := t.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("get code at %s: %w", address.Hex(), err)
	}
	return code, nil
}
