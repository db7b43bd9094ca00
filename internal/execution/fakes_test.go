package execution

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OneStable-limited/onestable-bridge/internal/chain"
)

// fakeArtifacts encodes payloads as readable strings: "<label>|<args>".
type fakeArtifacts struct{}

func (fakeArtifacts) EncodeDeployment(contract string, args []any) ([]byte, error) {
	return []byte(fmt.Sprintf("deploy:%s|%v", contract, args)), nil
}

func (fakeArtifacts) EncodeConstructorArgs(_ string, args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return []byte(fmt.Sprintf("%v", args)), nil
}

func (fakeArtifacts) EncodeCall(contract, method string, args []any) ([]byte, error) {
	return []byte(fmt.Sprintf("call:%s.%s|%v", contract, method, args)), nil
}

// addressCheckingArtifacts rejects string arguments that look like an
// address but are not one, and string identity arguments, the way ABI
// coercion of an address parameter does.
type addressCheckingArtifacts struct{ fakeArtifacts }

func checkAddresses(args []any) error {
	for _, a := range args {
		switch v := a.(type) {
		case string:
			if (strings.HasPrefix(v, "0x") || v == "signer") && !common.IsHexAddress(v) {
				return fmt.Errorf("invalid address %q", v)
			}
		case []any:
			if err := checkAddresses(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a addressCheckingArtifacts) EncodeDeployment(contract string, args []any) ([]byte, error) {
	if err := checkAddresses(args); err != nil {
		return nil, err
	}
	return a.fakeArtifacts.EncodeDeployment(contract, args)
}

func (a addressCheckingArtifacts) EncodeCall(contract, method string, args []any) ([]byte, error) {
	if err := checkAddresses(args); err != nil {
		return nil, err
	}
	return a.fakeArtifacts.EncodeCall(contract, method, args)
}

type fakeTx struct {
	signed    *chain.SignedTx
	label     string
	data      []byte
	broadcast bool
	mined     bool
	reverted  bool
	contract  common.Address
	block     uint64
}

// fakeTransport is an instant-mining chain. Transactions are labelled by
// the part of their payload before "|".
type fakeTransport struct {
	mu      sync.Mutex
	chainID *big.Int
	sender  common.Address
	nonce   uint64
	mined   uint64
	block   uint64
	txs     map[common.Hash]*fakeTx
	code    map[common.Address][]byte
	events  []string

	// revert makes matching transactions revert.
	revert func(label string) bool
	// hold makes WaitReceipt block until its context ends.
	hold func(label string) bool
	// signErr fails Sign for matching transactions.
	signErr func(label string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chainID: big.NewInt(97),
		sender:  common.HexToAddress("0x00000000000000000000000000000000000000a0"),
		txs:     make(map[common.Hash]*fakeTx),
		code:    make(map[common.Address][]byte),
	}
}

func label(data []byte) string {
	l, _, _ := strings.Cut(string(data), "|")
	return l
}

func (f *fakeTransport) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeTransport) Sender() common.Address { return f.sender }

func (f *fakeTransport) Sign(_ context.Context, req chain.TxRequest) (*chain.SignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l := label(req.Data)
	if f.signErr != nil {
		if err := f.signErr(l); err != nil {
			return nil, err
		}
	}

	nonce := f.nonce
	f.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256Hash(buf[:], req.Data)

	signed := &chain.SignedTx{Hash: hash, Nonce: nonce, From: f.sender, To: req.To, Raw: hash.Bytes()}
	f.txs[hash] = &fakeTx{signed: signed, label: l, data: req.Data}
	f.events = append(f.events, "sign "+l)
	return signed, nil
}

func (f *fakeTransport) Broadcast(_ context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[common.BytesToHash(raw)]
	if !ok {
		return fmt.Errorf("%w: unknown transaction", chain.ErrTxRejected)
	}
	tx.broadcast = true
	f.events = append(f.events, "broadcast "+tx.label)
	return nil
}

func (f *fakeTransport) WaitReceipt(ctx context.Context, raw []byte) (*types.Receipt, error) {
	f.mu.Lock()
	tx, ok := f.txs[common.BytesToHash(raw)]
	held := ok && f.hold != nil && f.hold(tx.label)
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown transaction")
	}
	if held {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked(tx)
	return f.receiptLocked(tx), nil
}

func (f *fakeTransport) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok || !tx.mined {
		return nil, chain.ErrReceiptNotFound
	}
	return f.receiptLocked(tx), nil
}

func (f *fakeTransport) NonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined, nil
}

func (f *fakeTransport) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[addr], nil
}

func (f *fakeTransport) mineLocked(tx *fakeTx) {
	if tx.mined {
		return
	}
	tx.mined = true
	f.block++
	tx.block = f.block
	if tx.signed.Nonce+1 > f.mined {
		f.mined = tx.signed.Nonce + 1
	}
	tx.reverted = f.revert != nil && f.revert(tx.label)
	if tx.signed.To == nil && !tx.reverted {
		tx.contract = crypto.CreateAddress(f.sender, tx.signed.Nonce)
		f.code[tx.contract] = []byte("code:" + tx.label)
	}
	f.events = append(f.events, "mined "+tx.label)
}

func (f *fakeTransport) receiptLocked(tx *fakeTx) *types.Receipt {
	status := types.ReceiptStatusSuccessful
	if tx.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:          status,
		TxHash:          tx.signed.Hash,
		ContractAddress: tx.contract,
		BlockNumber:     new(big.Int).SetUint64(tx.block),
	}
}

// mine mines a held transaction outside of a run.
func (f *fakeTransport) mine(l string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.label == l {
			f.mineLocked(tx)
		}
	}
}

// consumeNonce makes the sender's next nonce used by a foreign transaction.
func (f *fakeTransport) consumeNonce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mined = f.nonce
}

func (f *fakeTransport) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeTransport) count(prefix string) int {
	n := 0
	for _, e := range f.eventLog() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) byLabel(l string) *fakeTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.label == l {
			return tx
		}
	}
	return nil
}
