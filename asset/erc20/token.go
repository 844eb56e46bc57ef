// Package erc20 moves ledger funds through an ERC-20 contract on an EVM
// chain. The ledger custody account signs every transaction.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"questreward/asset"
)

const tokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	ErrReverted = errors.New("erc20: transaction reverted")

	parsedABI = mustParseABI()
)

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse abi: %v", err))
	}
	return parsed
}

// Client defines the subset of the Ethereum RPC used by the token adapter.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

const defaultConfirmTimeout = 2 * time.Minute

// Options tune transaction submission. ConfirmTimeout bounds how long a
// broadcast transaction is awaited; the wait does not end when the caller's
// context does.
type Options struct {
	Confirmations  uint64
	PollInterval   time.Duration
	GasLimit       uint64
	ConfirmTimeout time.Duration
}

// Token implements asset.Asset for one ERC-20 contract. Transactions from the
// custody key are serialised so nonces never collide.
type Token struct {
	client   Client
	contract common.Address
	key      *ecdsa.PrivateKey
	custody  common.Address
	opts     Options

	mu      sync.Mutex
	chainID *big.Int
}

// NewToken binds contract using key as the custody signer.
func NewToken(client Client, contract common.Address, key *ecdsa.PrivateKey, opts Options) (*Token, error) {
	if client == nil {
		return nil, fmt.Errorf("erc20: client required")
	}
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("erc20: contract address required")
	}
	if key == nil {
		return nil, fmt.Errorf("erc20: custody key required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Token{
		client:   client,
		contract: contract,
		key:      key,
		custody:  gethcrypto.PubkeyToAddress(key.PublicKey),
		opts:     opts,
	}, nil
}

// Custody returns the account holding ledger funds.
func (t *Token) Custody() common.Address { return t.custody }

// Contract returns the token contract address.
func (t *Token) Contract() common.Address { return t.contract }

// TransferIn pulls amount from the holder into custody using the allowance
// the holder granted to the custody account.
func (t *Token) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	data, err := parsedABI.Pack("transferFrom", from, t.custody, amount)
	if err != nil {
		return fmt.Errorf("erc20: pack transferFrom: %w", err)
	}
	return t.submit(ctx, data)
}

// TransferOut sends amount from custody to the recipient.
func (t *Token) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	data, err := parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("erc20: pack transfer: %w", err)
	}
	return t.submit(ctx, data)
}

// BalanceOf queries the token balance of who at the latest block.
func (t *Token) BalanceOf(ctx context.Context, who common.Address) (*big.Int, error) {
	data, err := parsedABI.Pack("balanceOf", who)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack balanceOf: %w", err)
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &t.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20: balanceOf: %w", err)
	}
	values, err := parsedABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("erc20: unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

// submit signs, broadcasts and awaits a contract call. Failures before the
// node accepts the transaction are definitive; anything after that wraps
// asset.ErrUnconfirmed unless the receipt proves a revert.
func (t *Token) submit(ctx context.Context, data []byte) error {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.ConfirmTimeout)
	defer cancel()

	t.mu.Lock()
	tx, err := t.sign(ctx, data)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("erc20: sign: %w", err)
	}
	err = t.client.SendTransaction(detached, tx)
	t.mu.Unlock()
	if err != nil {
		if ambiguousSendError(err) {
			return fmt.Errorf("erc20: send %s: %w: %w", tx.Hash().Hex(), asset.ErrUnconfirmed, err)
		}
		return fmt.Errorf("erc20: send: %w", err)
	}
	return t.wait(detached, tx.Hash())
}

// ambiguousSendError reports whether the node may have accepted the
// transaction despite the error.
func ambiguousSendError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sign builds an EIP-1559 transaction calling the contract. Callers hold mu.
func (t *Token) sign(ctx context.Context, data []byte) (*gethtypes.Transaction, error) {
	if t.chainID == nil {
		id, err := t.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		t.chainID = id
	}
	nonce, err := t.client.PendingNonceAt(ctx, t.custody)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := t.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas := t.opts.GasLimit
	if gas == 0 {
		gas, err = t.client.EstimateGas(ctx, ethereum.CallMsg{From: t.custody, To: &t.contract, Data: data})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}
	return gethtypes.SignNewTx(t.key, gethtypes.LatestSignerForChainID(t.chainID), &gethtypes.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &t.contract,
		Data:      data,
	})
}

// wait polls for the receipt and the configured number of confirmations.
// Receipt lookups that fail are retried until ctx ends.
func (t *Token) wait(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		done, err := t.confirmed(ctx, hash)
		switch {
		case errors.Is(err, ErrReverted):
			return err
		case err != nil:
			lastErr = err
		case done:
			return nil
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("erc20: waiting for %s: %w: %w (last error: %v)", hash.Hex(), asset.ErrUnconfirmed, ctx.Err(), lastErr)
			}
			return fmt.Errorf("erc20: waiting for %s: %w: %w", hash.Hex(), asset.ErrUnconfirmed, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Token) confirmed(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := t.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("erc20: fetch receipt: %w", err)
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return false, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	if t.opts.Confirmations <= 1 {
		return true, nil
	}
	head, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("erc20: fetch head: %w", err)
	}
	if head == nil || head.Number == nil || receipt.BlockNumber == nil {
		return false, nil
	}
	depth := new(big.Int).Sub(head.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(new(big.Int).SetUint64(t.opts.Confirmations)) >= 0, nil
}
