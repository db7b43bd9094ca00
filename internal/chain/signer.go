package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OneStable-limited/onestable-bridge/internal/config"
)

// Signer signs transactions for a single account.
type Signer interface {
	Address() common.Address
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner signs with an in-memory private key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key, with
// or without a 0x prefix.
func NewLocalSigner(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoSigner
	}

	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to get public key")
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    new(big.Int).Set(chainID),
	}, nil
}

// Address returns the signer's address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTransaction signs tx with the local key.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

// NewSigner builds the signer configured for a network. A remote signer
// endpoint takes precedence over a private key.
func NewSigner(cfg config.NetworkConfig, chainID *big.Int) (Signer, error) {
	if cfg.Signer.Endpoint != "" {
		if !common.IsHexAddress(cfg.Signer.Address) {
			return nil, fmt.Errorf("network %s: remote signer needs an address", cfg.Name)
		}
		rs, err := NewRemoteSigner(RemoteSignerConfig{
			Endpoint: cfg.Signer.Endpoint,
			APIKey:   cfg.Signer.APIKey,
			Address:  common.HexToAddress(cfg.Signer.Address),
			ChainID:  chainID,
		})
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", cfg.Name, err)
		}
		return rs, nil
	}

	s, err := NewLocalSigner(cfg.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", cfg.Name, err)
	}
	return s, nil
}

var (
	_ Signer = (*LocalSigner)(nil)
	_ Signer = (*RemoteSigner)(nil)
)
