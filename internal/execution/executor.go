// Package execution runs a deployment plan against one network.
//
// Futures run batch by batch. Within a batch transactions are signed and
// journaled one at a time, then broadcast and confirmed concurrently. Every
// transaction is recorded as submitted, raw bytes included, before it is
// broadcast, so an interrupted run can always tell on resume whether a
// node's transaction may be on chain.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/OneStable-limited/onestable-bridge/internal/chain"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

// Transport signs and submits transactions for one account.
type Transport interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Sender() common.Address
	Sign(ctx context.Context, req chain.TxRequest) (*chain.SignedTx, error)
	Broadcast(ctx context.Context, raw []byte) error
	WaitReceipt(ctx context.Context, raw []byte) (*types.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
}

// Artifacts encodes deployments and calls.
type Artifacts interface {
	EncodeDeployment(contract string, args []any) ([]byte, error)
	EncodeConstructorArgs(contract string, args []any) ([]byte, error)
	EncodeCall(contract, method string, args []any) ([]byte, error)
}

// Options configure an Executor.
type Options struct {
	// Network names the state the run reads and writes.
	Network string
	// MaxParallel bounds concurrent confirmations within a batch.
	MaxParallel int
	// ReceiptTimeout bounds the wait for each receipt. A node whose
	// receipt does not arrive in time stays submitted.
	ReceiptTimeout time.Duration
	Logger         *slog.Logger
	Metrics        Recorder
}

// Executor runs a plan.
type Executor struct {
	plan      *plan.Plan
	resolved  *plan.Resolved
	artifacts Artifacts
	transport Transport
	journal   *Journal
	opts      Options
	logger    *slog.Logger
	metrics   Recorder
}

// NewExecutor creates an Executor for a built plan and its resolved
// parameters.
func NewExecutor(p *plan.Plan, resolved *plan.Resolved, artifacts Artifacts, transport Transport, store repository.Store, opts Options) *Executor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("network", opts.Network))
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	return &Executor{
		plan:      p,
		resolved:  resolved,
		artifacts: artifacts,
		transport: transport,
		journal:   NewJournal(store, opts.Network, logger),
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// run is the mutable state of one Run call.
type run struct {
	resolved  *plan.Resolved
	artifacts Artifacts
	states    map[string]*NodeState
	records   map[string]*repository.NodeRecord

	mu        sync.Mutex
	addresses map[string]common.Address
	sent      int
}

func (r *run) address(id string) (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.addresses[id]
	return addr, ok
}

func (r *run) setAddress(id string, addr common.Address) {
	r.mu.Lock()
	r.addresses[id] = addr
	r.mu.Unlock()
}

func (r *run) record(id string) *repository.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

func (r *run) setRecord(rec *repository.NodeRecord) {
	r.mu.Lock()
	r.records[rec.NodeID] = rec
	r.mu.Unlock()
}

// task is a signed transaction awaiting broadcast and confirmation.
type task struct {
	future plan.Future
	record *repository.NodeRecord
	raw    []byte
	// recovered is set for transactions journaled by an earlier run.
	recovered bool
}

// Run executes every future not yet confirmed on the network. Confirmed
// nodes are checked against the plan and the chain, never resent. The
// returned Result is non-nil whenever the run got past the preflight and
// chain identity checks, including when it failed.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if err := Preflight(e.plan, e.resolved, e.artifacts); err != nil {
		return nil, err
	}

	chainID, err := e.transport.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	network, err := e.journal.Begin(ctx, chainID.Int64())
	if err != nil {
		return nil, err
	}

	records, err := e.journal.Load(ctx)
	if err != nil {
		return nil, err
	}

	r := &run{
		resolved:  e.resolved,
		artifacts: e.artifacts,
		states:    make(map[string]*NodeState),
		records:   records,
		addresses: make(map[string]common.Address),
	}
	for _, f := range e.plan.Futures() {
		st := NewNodeState(f.ID())
		next := StatusPending
		if rec, ok := records[f.ID()]; ok {
			next = Status(rec.Status)
		}
		if err := st.Transition(next); err != nil {
			return nil, err
		}
		r.states[f.ID()] = st
	}

	e.logger.Info("starting deployment",
		slog.Int64("chain_id", chainID.Int64()),
		slog.String("run_id", network.RunID.String()),
		slog.String("sender", e.transport.Sender().Hex()),
		slog.Int("nodes", len(r.states)),
	)

	runErr := e.execute(ctx, r)

	result := e.result(r, network)
	result.Duration = time.Since(start)

	status := repository.RunCompleted
	if runErr != nil || !result.Succeeded() {
		status = repository.RunFailed
	}
	if err := e.journal.Finish(ctx, network, status); err != nil {
		runErr = multierror.Append(runErr, err).ErrorOrNil()
	}
	e.metrics.RunFinished(e.opts.Network, status == repository.RunCompleted, result.Duration)

	if runErr != nil {
		e.logger.Error("deployment failed",
			slog.String("error", runErr.Error()),
			slog.Any("blocked", result.Blocked()),
		)
		return result, runErr
	}

	e.logger.Info("deployment complete",
		slog.Int("transactions", result.Transactions),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, r *run) error {
	for _, batch := range e.plan.Batches() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			tasks  []*task
			result *multierror.Error
		)
		for _, f := range batch {
			if r.states[f.ID()].Status() == StatusConfirmed {
				if err := e.reconcile(ctx, r, f); err != nil {
					return err
				}
				continue
			}

			t, err := e.prepare(ctx, r, f)
			if err != nil {
				var mismatch *MismatchError
				if errors.As(err, &mismatch) {
					return err
				}
				result = multierror.Append(result, err)
				break
			}
			if t != nil {
				tasks = append(tasks, t)
			}
		}

		if err := e.confirmAll(ctx, r, tasks); err != nil {
			result = multierror.Append(result, err)
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
	}
	return nil
}

// reconcile checks a node confirmed by an earlier run.
func (e *Executor) reconcile(ctx context.Context, r *run, f plan.Future) error {
	rec := r.record(f.ID())

	in, err := r.encode(f)
	if err != nil {
		return &NodeError{NodeID: f.ID(), Op: "resolve", Err: err}
	}
	if rec.InputHash != "" && rec.InputHash != in.hash {
		return &MismatchError{NodeID: f.ID(), Reason: "inputs changed since the node was confirmed"}
	}

	switch f.Kind() {
	case plan.KindContract:
		addr := common.HexToAddress(rec.Address)
		code, err := e.transport.CodeAt(ctx, addr)
		if err != nil {
			return &NodeError{NodeID: f.ID(), Op: "reconcile", Err: err}
		}
		if len(code) == 0 {
			return &MismatchError{NodeID: f.ID(), Reason: fmt.Sprintf("no code at recorded address %s", addr.Hex())}
		}
		if rec.CodeHash != "" && crypto.Keccak256Hash(code).Hex() != rec.CodeHash {
			return &MismatchError{NodeID: f.ID(), Reason: fmt.Sprintf("code at %s changed", addr.Hex())}
		}
		r.setAddress(f.ID(), addr)

	case plan.KindContractAt:
		if common.HexToAddress(rec.Address) != in.address {
			return &MismatchError{NodeID: f.ID(), Reason: fmt.Sprintf("bound address changed from %s to %s", rec.Address, in.address.Hex())}
		}
		r.setAddress(f.ID(), in.address)

	case plan.KindCall:
		if _, err := e.transport.Receipt(ctx, common.HexToHash(rec.TxHash)); err != nil {
			if errors.Is(err, chain.ErrReceiptNotFound) {
				return &MismatchError{NodeID: f.ID(), Reason: fmt.Sprintf("transaction %s not found on chain", rec.TxHash)}
			}
			return &NodeError{NodeID: f.ID(), Op: "reconcile", Err: err}
		}
	}

	e.logger.Debug("node already confirmed",
		slog.String("node_id", f.ID()),
		slog.String("address", rec.Address),
	)
	return nil
}

// prepare moves a node towards submission. Address bindings are confirmed
// immediately; transactions are signed and journaled as submitted. A node
// left submitted by an earlier run is returned for recovery as is.
func (e *Executor) prepare(ctx context.Context, r *run, f plan.Future) (*task, error) {
	st := r.states[f.ID()]

	in, err := r.encode(f)
	if err != nil {
		if st.Status() == StatusSubmitted {
			return nil, &NodeError{NodeID: f.ID(), Op: "resolve", Err: err}
		}
		return nil, e.fail(ctx, r, f, &repository.NodeRecord{NodeID: f.ID()}, &NodeError{NodeID: f.ID(), Op: "resolve", Err: err})
	}

	if st.Status() == StatusSubmitted {
		rec := r.record(f.ID())
		if rec.InputHash != in.hash {
			return nil, &MismatchError{NodeID: f.ID(), Reason: "inputs changed while a transaction was in flight"}
		}
		raw, err := hexutil.Decode(rec.RawTx)
		if err != nil {
			return nil, &MismatchError{NodeID: f.ID(), Reason: fmt.Sprintf("recorded transaction is unreadable: %v", err)}
		}
		e.logger.Info("recovering submitted transaction",
			slog.String("node_id", f.ID()),
			slog.String("tx_hash", rec.TxHash),
		)
		return &task{future: f, record: rec, raw: raw, recovered: true}, nil
	}

	if st.Status() == StatusFailed {
		if err := e.transition(r, f, StatusPending); err != nil {
			return nil, err
		}
	}

	rec := &repository.NodeRecord{
		NodeID:       f.ID(),
		Kind:         string(f.Kind()),
		ContractName: in.contractName,
		InputHash:    in.hash,
	}

	if f.Kind() == plan.KindContractAt {
		rec.Status = repository.StatusConfirmed
		rec.Address = in.address.Hex()
		if err := e.journal.Record(ctx, rec); err != nil {
			return nil, &NodeError{NodeID: f.ID(), Op: "record", Err: err}
		}
		r.setRecord(rec)
		r.setAddress(f.ID(), in.address)
		if err := e.transition(r, f, StatusConfirmed); err != nil {
			return nil, err
		}
		e.logger.Info("contract bound",
			slog.String("node_id", f.ID()),
			slog.String("address", rec.Address),
		)
		return nil, nil
	}

	signed, err := e.transport.Sign(ctx, chain.TxRequest{To: in.to, Data: in.data})
	if err != nil {
		return nil, e.fail(ctx, r, f, rec, submissionError(f.ID(), "sign", err))
	}

	nonce := signed.Nonce
	rec.Status = repository.StatusSubmitted
	rec.From = signed.From.Hex()
	rec.TxHash = signed.Hash.Hex()
	rec.Nonce = &nonce
	rec.RawTx = hexutil.Encode(signed.Raw)
	if in.to != nil {
		rec.To = in.to.Hex()
	}
	if len(in.constructorArgs) > 0 {
		rec.ConstructorArgs = hexutil.Encode(in.constructorArgs)
	}

	if err := e.journal.Record(ctx, rec); err != nil {
		return nil, &NodeError{NodeID: f.ID(), Op: "record", Err: err}
	}
	r.setRecord(rec)
	if err := e.transition(r, f, StatusSubmitted); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sent++
	r.mu.Unlock()

	return &task{future: f, record: rec, raw: signed.Raw}, nil
}

// confirmAll broadcasts and confirms tasks concurrently and collects every
// failure.
func (e *Executor) confirmAll(ctx context.Context, r *run, tasks []*task) error {
	if len(tasks) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)
	g.SetLimit(e.opts.MaxParallel)
	for _, t := range tasks {
		g.Go(func() error {
			if err := e.confirm(ctx, r, t); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if result != nil {
		sortErrors(result)
	}
	return result.ErrorOrNil()
}

// confirm broadcasts t and waits for its receipt. Errors that leave it
// unknown whether the transaction is on chain keep the node submitted.
func (e *Executor) confirm(ctx context.Context, r *run, t *task) error {
	id := t.future.ID()
	hash := common.HexToHash(t.record.TxHash)

	if t.recovered {
		receipt, err := e.transport.Receipt(ctx, hash)
		switch {
		case err == nil:
			return e.finalize(ctx, r, t, receipt)
		case !errors.Is(err, chain.ErrReceiptNotFound):
			return &NodeError{NodeID: id, Op: "confirm", Err: err}
		}

		mined, err := e.transport.NonceAt(ctx, common.HexToAddress(t.record.From))
		if err != nil {
			return &NodeError{NodeID: id, Op: "confirm", Err: err}
		}
		if t.record.Nonce != nil && mined > *t.record.Nonce {
			return e.fail(ctx, r, t.future, t.record, submissionError(id, "confirm",
				fmt.Errorf("transaction %s was dropped or replaced: nonce %d already used", t.record.TxHash, *t.record.Nonce)))
		}
	}

	if err := e.transport.Broadcast(ctx, t.raw); err != nil {
		if errors.Is(err, chain.ErrTxRejected) {
			if receipt, rerr := e.transport.Receipt(ctx, hash); rerr == nil {
				return e.finalize(ctx, r, t, receipt)
			}
			return e.fail(ctx, r, t.future, t.record, submissionError(id, "broadcast", err))
		}
		return submissionError(id, "broadcast", err)
	}
	if !t.recovered {
		e.metrics.TransactionSent(e.opts.Network, string(t.future.Kind()))
	}
	e.logger.Info("transaction sent",
		slog.String("node_id", id),
		slog.String("tx_hash", t.record.TxHash),
		slog.Uint64("nonce", derefNonce(t.record.Nonce)),
	)

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ReceiptTimeout)
	defer cancel()
	receipt, err := e.transport.WaitReceipt(waitCtx, t.raw)
	if err != nil {
		return submissionError(id, "confirm", err)
	}
	return e.finalize(ctx, r, t, receipt)
}

// finalize records the outcome of a mined transaction.
func (e *Executor) finalize(ctx context.Context, r *run, t *task, receipt *types.Receipt) error {
	id := t.future.ID()
	if receipt.Status != types.ReceiptStatusSuccessful {
		return e.fail(ctx, r, t.future, t.record, submissionError(id, "confirm",
			fmt.Errorf("transaction %s reverted", t.record.TxHash)))
	}

	rec := *t.record
	rec.Status = repository.StatusConfirmed
	rec.Error = ""
	if receipt.BlockNumber != nil {
		rec.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if t.future.Kind() == plan.KindContract {
		addr := receipt.ContractAddress
		code, err := e.transport.CodeAt(ctx, addr)
		if err != nil {
			return &NodeError{NodeID: id, Op: "confirm", Err: err}
		}
		if len(code) == 0 {
			return e.fail(ctx, r, t.future, t.record, submissionError(id, "confirm",
				fmt.Errorf("no code at %s after deployment", addr.Hex())))
		}
		rec.Address = addr.Hex()
		rec.CodeHash = crypto.Keccak256Hash(code).Hex()
	}

	if err := e.journal.Record(ctx, &rec); err != nil {
		return &NodeError{NodeID: id, Op: "record", Err: err}
	}
	r.setRecord(&rec)
	if rec.Address != "" {
		r.setAddress(id, common.HexToAddress(rec.Address))
	}
	if err := e.transition(r, t.future, StatusConfirmed); err != nil {
		return err
	}

	e.logger.Info("node confirmed",
		slog.String("node_id", id),
		slog.String("tx_hash", rec.TxHash),
		slog.String("address", rec.Address),
		slog.Uint64("block_number", rec.BlockNumber),
	)
	return nil
}

// fail records nodeErr against f and returns it.
func (e *Executor) fail(ctx context.Context, r *run, f plan.Future, base *repository.NodeRecord, nodeErr *NodeError) error {
	rec := *base
	rec.NodeID = f.ID()
	rec.Kind = string(f.Kind())
	rec.Status = repository.StatusFailed
	rec.Error = nodeErr.Err.Error()

	var result *multierror.Error
	result = multierror.Append(result, nodeErr)
	if err := e.journal.Record(ctx, &rec); err != nil {
		result = multierror.Append(result, err)
	} else {
		r.setRecord(&rec)
	}
	if err := e.transition(r, f, StatusFailed); err != nil {
		result = multierror.Append(result, err)
	}

	e.logger.Error("node failed",
		slog.String("node_id", f.ID()),
		slog.String("op", nodeErr.Op),
		slog.String("error", nodeErr.Err.Error()),
	)

	if len(result.Errors) == 1 {
		return nodeErr
	}
	return result
}

func (e *Executor) transition(r *run, f plan.Future, next Status) error {
	if err := r.states[f.ID()].Transition(next); err != nil {
		return err
	}
	e.metrics.NodeTransition(e.opts.Network, string(f.Kind()), next)
	return nil
}

func (e *Executor) result(r *run, network *repository.NetworkRecord) *Result {
	res := &Result{
		Network:      e.opts.Network,
		ChainID:      network.ChainID,
		RunID:        network.RunID,
		Transactions: r.sent,
	}

	blockedBy := make(map[string][]string)
	for _, f := range e.plan.Futures() {
		switch r.states[f.ID()].Status() {
		case StatusFailed, StatusSubmitted:
			for _, dep := range e.plan.Dependents(f.ID()) {
				blockedBy[dep] = append(blockedBy[dep], f.ID())
			}
		}
	}

	for _, f := range e.plan.Futures() {
		n := NodeResult{
			ID:     f.ID(),
			Kind:   string(f.Kind()),
			Status: r.states[f.ID()].Status(),
		}
		if cf, ok := f.(plan.ContractFuture); ok {
			n.ContractName = cf.ContractName()
		} else if call, ok := f.(*plan.Call); ok {
			n.ContractName = call.Contract.ContractName()
		}
		if rec := r.record(f.ID()); rec != nil {
			n.TxHash = rec.TxHash
			n.Error = rec.Error
			if rec.Address != "" {
				n.Address = common.HexToAddress(rec.Address)
			}
		}
		if n.Status == StatusPending {
			n.BlockedBy = blockedBy[f.ID()]
		}
		res.Nodes = append(res.Nodes, n)
	}
	return res
}

func sortErrors(m *multierror.Error) {
	sort.Slice(m.Errors, func(i, j int) bool {
		return m.Errors[i].Error() < m.Errors[j].Error()
	})
}

func derefNonce(n *uint64) uint64 {
	if n == nil {
		return 0
	}
	return *n
}
