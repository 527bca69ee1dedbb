package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

// Backend is the subset of *ethclient.Client the EVM ledger needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

type EVMOptions struct {
	Contract common.Address
	// ChainID is queried from the backend when nil.
	ChainID       *big.Int
	Confirmations uint64
	PollInterval  time.Duration
}

// EVMClient talks to the escrow contract through a JSON-RPC node and signs
// transactions locally with one key.
type EVMClient struct {
	backend       Backend
	abi           abi.ABI
	contract      common.Address
	chainID       *big.Int
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	pollInterval  time.Duration
	logger        logging.Logger
}

func NewEVMClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, opts EVMOptions, logger logging.Logger) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}

	chainID := opts.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("evm: query chain id: %w", transient(err))
		}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &EVMClient{
		backend:       backend,
		abi:           parsed,
		contract:      opts.Contract,
		chainID:       chainID,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: max(opts.Confirmations, 1),
		pollInterval:  opts.PollInterval,
		logger:        logger,
	}, nil
}

func (c *EVMClient) Signer() common.Address {
	return c.from
}

func (c *EVMClient) ReadJob(ctx context.Context, id core.JobID) (core.JobSnapshot, error) {
	raw, err := c.callRaw(ctx, "jobs", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return core.JobSnapshot{}, err
	}
	// Output names map onto the exported fields.
	var snapshot core.JobSnapshot
	if err := c.abi.UnpackIntoInterface(&snapshot, "jobs", raw); err != nil {
		return core.JobSnapshot{}, fmt.Errorf("evm: unpack jobs(%s): %w", id, err)
	}
	return snapshot, nil
}

func (c *EVMClient) JobCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "jobCount")
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, fmt.Errorf("evm: unexpected jobCount result %v", out[0])
	}
	return count.Uint64(), nil
}

func (c *EVMClient) callRaw(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", method, transient(err))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("evm: call %s: empty result, is %s the escrow contract?", method, c.contract.Hex())
	}
	return raw, nil
}

func (c *EVMClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	raw, err := c.callRaw(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *EVMClient) calldata(sub core.Submission) ([]byte, error) {
	id := new(big.Int).SetUint64(uint64(sub.JobID))
	switch a := sub.Action.(type) {
	case core.CreateJob:
		return c.abi.Pack("createJob", a.Worker, big.NewInt(a.Deadline.Unix()))
	case core.SubmitWork:
		return c.abi.Pack("submitWork", id, a.Deliverable)
	case core.ApproveWork, core.CancelJob, core.DisputeJob, core.ResolveDispute:
		return c.abi.Pack(string(a.Kind()), id)
	default:
		return nil, fmt.Errorf("evm: unsupported action %T", sub.Action)
	}
}

// Submit builds, signs and broadcasts one EIP-1559 transaction. It never
// retries. When the broadcast fails ambiguously the returned handle carries
// the signed hash and the error wraps core.ErrBroadcastUnknown.
func (c *EVMClient) Submit(ctx context.Context, sub core.Submission) (core.TxHandle, error) {
	data, err := c.calldata(sub)
	if err != nil {
		return core.TxHandle{}, err
	}
	value := sub.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return core.TxHandle{}, fmt.Errorf("evm: pending nonce: %w", transient(err))
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return core.TxHandle{}, fmt.Errorf("evm: gas tip: %w", transient(err))
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return core.TxHandle{}, fmt.Errorf("evm: latest header: %w", transient(err))
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &c.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return core.TxHandle{}, fmt.Errorf("evm: estimate %s: %w", sub.Action.Kind(), classifySendError(err))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &c.contract,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return core.TxHandle{}, fmt.Errorf("evm: sign: %w", err)
	}
	handle := core.TxHandle{
		Hash:        signed.Hash(),
		Action:      sub.Action.Kind(),
		JobID:       sub.JobID,
		SubmittedAt: time.Now().UTC(),
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isAlreadyKnown(err) {
			c.logger.Debug("Node already holds transaction", "tx_hash", handle.Hash.Hex())
			return handle, nil
		}
		classified := classifySendError(err)
		if errors.Is(classified, core.ErrRejected) || errors.Is(classified, core.ErrInsufficientFunds) {
			return core.TxHandle{}, fmt.Errorf("evm: send %s: %w", sub.Action.Kind(), classified)
		}
		// The node may have accepted the transaction before the failure, so
		// the hash goes back with the error.
		return handle, fmt.Errorf("evm: send %s: %w: %w", sub.Action.Kind(), core.ErrBroadcastUnknown, classified)
	}

	c.logger.Debug(
		"Transaction broadcast",
		"action", string(sub.Action.Kind()),
		"tx_hash", handle.Hash.Hex(),
		"nonce", nonce,
		"gas", signed.Gas(),
	)
	return handle, nil
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func (c *EVMClient) AwaitConfirmation(ctx context.Context, handle core.TxHandle, timeout time.Duration) (core.Confirmation, error) {
	if timeout <= 0 {
		return c.checkConfirmation(ctx, handle, true)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		confirmation, err := c.checkConfirmation(waitCtx, handle, false)
		if !errors.Is(err, core.ErrConfirmationTimeout) {
			return confirmation, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return core.Confirmation{}, ctx.Err()
			}
			return core.Confirmation{}, core.ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// checkConfirmation reports ErrConfirmationTimeout while the transaction is
// pending or short of the configured confirmation depth.
func (c *EVMClient) checkConfirmation(ctx context.Context, handle core.TxHandle, lookup bool) (core.Confirmation, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, handle.Hash)
	if errors.Is(err, ethereum.NotFound) {
		if lookup {
			if _, _, err := c.backend.TransactionByHash(ctx, handle.Hash); errors.Is(err, ethereum.NotFound) {
				return core.Confirmation{}, fmt.Errorf("%s: %w", handle.Hash.Hex(), core.ErrTxNotFound)
			}
		}
		return core.Confirmation{}, core.ErrConfirmationTimeout
	}
	if err != nil {
		if ctx.Err() != nil {
			return core.Confirmation{}, ctx.Err()
		}
		return core.Confirmation{}, fmt.Errorf("evm: receipt %s: %w", handle.Hash.Hex(), transient(err))
	}

	block := receipt.BlockNumber.Uint64()
	if c.confirmations > 1 {
		head, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return core.Confirmation{}, fmt.Errorf("evm: block number: %w", transient(err))
		}
		if head+1 < block+c.confirmations {
			return core.Confirmation{}, core.ErrConfirmationTimeout
		}
	}

	confirmation := core.Confirmation{Hash: handle.Hash, Block: block}
	if receipt.Status == types.ReceiptStatusFailed {
		return confirmation, fmt.Errorf("%s: %w", handle.Hash.Hex(), core.ErrReverted)
	}

	creating := handle.Action == core.ActionCreateJob
	if handle.Action == "" {
		creating = c.isCreateJobTx(ctx, handle.Hash)
	}
	if creating {
		confirmation.CreatedJobID = c.createdJobID(receipt)
	}
	return confirmation, nil
}

func (c *EVMClient) isCreateJobTx(ctx context.Context, hash common.Hash) bool {
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil || tx.To() == nil || *tx.To() != c.contract {
		return false
	}
	return bytes.HasPrefix(tx.Data(), c.abi.Methods["createJob"].ID)
}

// createdJobID reads the job id from the contract's first log: indexed
// topic 1 when present, otherwise the first data word.
func (c *EVMClient) createdJobID(receipt *types.Receipt) *core.JobID {
	for _, log := range receipt.Logs {
		if log.Address != c.contract {
			continue
		}
		var word []byte
		switch {
		case len(log.Topics) > 1:
			word = log.Topics[1].Bytes()
		case len(log.Data) >= 32:
			word = log.Data[:32]
		default:
			continue
		}
		v := new(big.Int).SetBytes(word)
		if !v.IsUint64() {
			return nil
		}
		id := core.JobID(v.Uint64())
		return &id
	}
	return nil
}

func transient(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrTransient, err)
}

// classifySendError maps node errors from estimation and broadcast.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	var dataErr rpc.DataError
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %w", core.ErrInsufficientFunds, err)
	case errors.As(err, &dataErr),
		strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "fee cap less than block base fee"),
		strings.Contains(msg, "intrinsic gas too low"):
		return fmt.Errorf("%w: %w", core.ErrRejected, err)
	default:
		return transient(err)
	}
}
