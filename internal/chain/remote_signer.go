package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// RemoteSignerConfig configures a JSON-RPC signer exposing
// eth_signTransaction.
type RemoteSignerConfig struct {
	// Endpoint is the signer's JSON-RPC URL.
	Endpoint string
	// APIKey is sent in the X-API-Key header.
	APIKey string
	// Address is the account the signer holds the key for.
	Address common.Address
	ChainID *big.Int
	// MaxAttempts bounds calls per signature (default: 3).
	MaxAttempts    int
	InitialBackoff time.Duration // default: 1s
	MaxBackoff     time.Duration // default: 10s
	HTTPClient     *http.Client
}

// RemoteSigner signs transactions through a remote JSON-RPC signer so the
// deployer never holds the key.
type RemoteSigner struct {
	config RemoteSignerConfig
	rpc    *rpc.Client
}

type signTxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
	ChainID  *hexutil.Big    `json:"chainId"`
}

// NewRemoteSigner creates a RemoteSigner. No connection is made until the
// first signature.
func NewRemoteSigner(cfg RemoteSignerConfig) (*RemoteSigner, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	opts := []rpc.ClientOption{rpc.WithHTTPClient(cfg.HTTPClient)}
	if cfg.APIKey != "" {
		opts = append(opts, rpc.WithHeader("X-API-Key", cfg.APIKey))
	}
	client, err := rpc.DialOptions(context.Background(), cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote signer %s: %w", cfg.Endpoint, err)
	}
	return &RemoteSigner{config: cfg, rpc: client}, nil
}

// Address returns the account the signer signs for.
func (s *RemoteSigner) Address() common.Address {
	return s.config.Address
}

// SignTransaction signs tx via eth_signTransaction. The returned
// transaction must recover to Address.
func (s *RemoteSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	args := s.args(tx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.InitialBackoff
	policy.MaxInterval = s.config.MaxBackoff
	policy.MaxElapsedTime = 0

	var raw hexutil.Bytes
	attempts := 0
	call := func() error {
		attempts++
		err := s.rpc.CallContext(ctx, &raw, "eth_signTransaction", args)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.MaxAttempts-1)), ctx)
	if err := backoff.Retry(call, b); err != nil {
		if retryable(err) && attempts == s.config.MaxAttempts {
			return nil, fmt.Errorf("signing failed after %d attempts: %w", attempts, err)
		}
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(s.config.ChainID), signed)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if sender != s.config.Address {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSenderMismatch, sender.Hex(), s.config.Address.Hex())
	}
	return signed, nil
}

// Close releases the RPC client.
func (s *RemoteSigner) Close() {
	s.rpc.Close()
}

func (s *RemoteSigner) args(tx *types.Transaction) signTxArgs {
	return signTxArgs{
		From:     s.config.Address,
		To:       tx.To(),
		Gas:      hexutil.Uint64(tx.Gas()),
		GasPrice: (*hexutil.Big)(tx.GasPrice()),
		Value:    (*hexutil.Big)(tx.Value()),
		Nonce:    hexutil.Uint64(tx.Nonce()),
		Data:     tx.Data(),
		ChainID:  (*hexutil.Big)(s.config.ChainID),
	}
}

// retryable reports whether a signer call may succeed when repeated:
// transport failures, 5xx responses and JSON-RPC server errors
// (-32000 to -32099).
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return isRetryableRPCError(rpcErr.ErrorCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func isRetryableRPCError(code int) bool {
	return code >= -32099 && code <= -32000
}
