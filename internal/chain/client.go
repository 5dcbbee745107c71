// Package chain talks to the Void contract on an EVM chain: withdraw
// submission, state-root commitments, deposit log queries and ERC-20
// metadata reads.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/voidwallet/voidd/pkg/logger"
)

// DepositedTopic is keccak256("Deposited(address,uint256,address)"), the
// topic0 of the contract's deposit event.
var DepositedTopic = common.HexToHash("0xb4e1304f97b5093610f51b33ddab6622388422e2dac138b0d32f93dcfbd39edf")

const voidABIJSON = `[
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"tokenAddress","type":"address"}],"outputs":[]},
  {"type":"function","name":"SetState","stateMutability":"nonpayable","inputs":[
    {"name":"root","type":"tuple","components":[
      {"name":"stateRoot","type":"bytes32"},
      {"name":"term","type":"uint256"},
      {"name":"signature","type":"bytes32"}]}],"outputs":[]},
  {"type":"function","name":"isTeeDead","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Deposited","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"tokenAddress","type":"address","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// stateRootInfo mirrors the contract's StateRootInfo tuple.
type stateRootInfo struct {
	StateRoot [32]byte
	Term      *big.Int
	Signature [32]byte
}

// DepositEvent is one decoded Deposited log.
type DepositEvent struct {
	User     common.Address
	Amount   *big.Int
	Token    common.Address
	TxHash   common.Hash
	LogIndex uint
}

// Client is the concrete RPC-backed contract client.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	signer   *Signer
	chainID  *big.Int
	voidABI  abi.ABI
	erc20ABI abi.ABI
	log      *logger.Logger

	decimalsMu    sync.RWMutex
	decimalsCache map[common.Address]uint8
}

// Dial connects to the RPC endpoint and prepares the contract bindings.
func Dial(ctx context.Context, rpcURL string, contract common.Address, signer *Signer, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewDefault("chain")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	voidABI, err := abi.JSON(strings.NewReader(voidABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &Client{
		eth:           eth,
		contract:      contract,
		signer:        signer,
		chainID:       chainID,
		voidABI:       voidABI,
		erc20ABI:      erc20ABI,
		log:           log,
		decimalsCache: make(map[common.Address]uint8),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// SignerAddress returns the enclave key's address.
func (c *Client) SignerAddress() common.Address { return c.signer.Address() }

// ContractAddress returns the Void contract address.
func (c *Client) ContractAddress() common.Address { return c.contract }

// TokenDecimals reads an ERC-20's decimals, caching per token. Decimals are
// immutable in practice so the cache never expires.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	c.decimalsMu.RLock()
	cached, ok := c.decimalsCache[token]
	c.decimalsMu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := c.erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals call: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("read decimals of %s: %w", token.Hex(), err)
	}
	vals, err := c.erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals of %s has unexpected type %T", token.Hex(), vals[0])
	}

	c.decimalsMu.Lock()
	c.decimalsCache[token] = decimals
	c.decimalsMu.Unlock()
	return decimals, nil
}

// Withdraw submits withdraw(to, amount, token) with the enclave key and
// waits for the receipt. Returns the transaction hash only after the
// receipt reports success.
func (c *Client) Withdraw(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (common.Hash, error) {
	data, err := c.voidABI.Pack("withdraw", to, amount, token)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack withdraw: %w", err)
	}
	return c.transact(ctx, data)
}

// CommitStateRoot signs (stateRoot, term) with the enclave key and submits
// SetState. The tuple carries the keccak of the 65-byte signature; the full
// signature stays server-side for challenges.
func (c *Client) CommitStateRoot(ctx context.Context, stateRoot common.Hash, term uint64) (common.Hash, []byte, error) {
	sig, err := c.signer.SignCommitment(stateRoot, term)
	if err != nil {
		return common.Hash{}, nil, err
	}

	info := stateRootInfo{
		StateRoot: stateRoot,
		Term:      new(big.Int).SetUint64(term),
		Signature: crypto.Keccak256Hash(sig),
	}
	data, err := c.voidABI.Pack("SetState", info)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("pack SetState: %w", err)
	}

	txHash, err := c.transact(ctx, data)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return txHash, sig, nil
}

// TeeDead reads the contract's dead-man's-switch flag.
func (c *Client) TeeDead(ctx context.Context) (bool, error) {
	data, err := c.voidABI.Pack("isTeeDead")
	if err != nil {
		return false, fmt.Errorf("pack isTeeDead: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("read isTeeDead: %w", err)
	}
	vals, err := c.voidABI.Unpack("isTeeDead", out)
	if err != nil {
		return false, fmt.Errorf("unpack isTeeDead: %w", err)
	}
	dead, _ := vals[0].(bool)
	return dead, nil
}

// FilterDeposits scans the chain for Deposited events addressed to wallet.
func (c *Client) FilterDeposits(ctx context.Context, wallet common.Address) ([]DepositEvent, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{DepositedTopic},
			{common.BytesToHash(wallet.Bytes())},
		},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter deposit logs: %w", err)
	}

	events := make([]DepositEvent, 0, len(logs))
	for _, lg := range logs {
		event, err := c.DecodeDeposit(lg.Topics, lg.Data)
		if err != nil {
			c.log.WithError(err).WithField("tx", lg.TxHash.Hex()).Warn("skipping undecodable deposit log")
			continue
		}
		event.TxHash = lg.TxHash
		event.LogIndex = lg.Index
		events = append(events, event)
	}
	return events, nil
}

// DecodeDeposit decodes a Deposited log's topics and data. The user address
// is indexed; amount and token live in the data segment.
func (c *Client) DecodeDeposit(topics []common.Hash, data []byte) (DepositEvent, error) {
	if len(topics) < 2 || topics[0] != DepositedTopic {
		return DepositEvent{}, fmt.Errorf("not a deposit log")
	}

	vals, err := c.voidABI.Events["Deposited"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return DepositEvent{}, fmt.Errorf("unpack deposit data: %w", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return DepositEvent{}, fmt.Errorf("deposit amount has unexpected type %T", vals[0])
	}
	token, ok := vals[1].(common.Address)
	if !ok {
		return DepositEvent{}, fmt.Errorf("deposit token has unexpected type %T", vals[1])
	}

	return DepositEvent{
		User:   common.BytesToAddress(topics[1].Bytes()),
		Amount: amount,
		Token:  token,
	}, nil
}

// transact signs and sends a contract call, then blocks until it is mined.
func (c *Client) transact(ctx context.Context, data []byte) (common.Hash, error) {
	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from, To: &c.contract, Data: data, GasPrice: gasPrice,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("await receipt for %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}
