package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
)

// Log is one event log from a mined transaction.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
	Logs        []Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool { return r.Status == types.ReceiptStatusSuccessful }

// TransferLog is a raw USDC Transfer event touching a tracked wallet.
type TransferLog struct {
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Value       *big.Int
	BlockNumber uint64
	LogIndex    uint
}

// ChainError marks a transaction that reverted on-chain.
type ChainError struct {
	Chain  string
	TxHash string
	Op     string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s reverted on %s: %s", e.Op, e.Chain, e.TxHash)
}

// Gateway wraps one chain's RPC endpoint: balance and allowance reads, token
// transfer submission with fee estimation, event-log queries and receipt
// waiting. One Gateway per chain; safe for sequential use.
type Gateway struct {
	chain   config.ChainConfig
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	account common.Address
	logger  *zap.Logger

	decimalsCached bool
	decimals       uint8
}

// NewGateway dials the chain's RPC endpoint. The private key may be empty for
// read-only use; submissions then fail with a clear error.
func NewGateway(chain config.ChainConfig, privateKeyHex string, logger *zap.Logger) (*Gateway, error) {
	client, err := ethclient.Dial(chain.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", chain.Name, err)
	}

	g := &Gateway{chain: chain, client: client, logger: logger}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		g.key = key
		g.account = crypto.PubkeyToAddress(key.PublicKey)
	}
	return g, nil
}

func (g *Gateway) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// Account is the signing address, zero when running read-only.
func (g *Gateway) Account() common.Address { return g.account }

// Chain returns the chain this gateway serves.
func (g *Gateway) Chain() config.ChainConfig { return g.chain }

func (g *Gateway) callUSDC(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.chain.USDCAddress, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, g.chain.Name, err)
	}
	return erc20ABI.Unpack(method, result)
}

// Decimals reads the USDC token's declared decimals, cached after first read.
func (g *Gateway) Decimals(ctx context.Context) (uint8, error) {
	if g.decimalsCached {
		return g.decimals, nil
	}
	values, err := g.callUSDC(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	g.decimals = decimals
	g.decimalsCached = true
	return decimals, nil
}

// BalanceOf reads the raw USDC balance of an address.
func (g *Gateway) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := g.callUSDC(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", values[0])
	}
	return balance, nil
}

// Allowance reads the raw USDC allowance from owner to spender.
func (g *Gateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	values, err := g.callUSDC(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}

// NativeBalance reads the chain's native token balance (for gas visibility).
func (g *Gateway) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return g.client.BalanceAt(ctx, addr, nil)
}

// BlockNumber returns the current chain head.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	return g.client.BlockNumber(ctx)
}

// BlockTime resolves a block number to its timestamp.
func (g *Gateway) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := g.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d on %s: %w", number, g.chain.Name, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// NonceUsed asks the message transmitter whether a CCTP nonce was already
// consumed on this chain, so a mint is never submitted twice.
func (g *Gateway) NonceUsed(ctx context.Context, nonce [32]byte) (bool, error) {
	data, err := transmitterABI.Pack("usedNonces", nonce)
	if err != nil {
		return false, fmt.Errorf("pack usedNonces: %w", err)
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.chain.MessageTransmitter, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call usedNonces on %s: %w", g.chain.Name, err)
	}
	values, err := transmitterABI.Unpack("usedNonces", result)
	if err != nil {
		return false, fmt.Errorf("unpack usedNonces: %w", err)
	}
	used, ok := values[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("unexpected usedNonces type %T", values[0])
	}
	return used.Sign() != 0, nil
}

// SubmitCall signs and broadcasts a contract call, returning once the
// transaction is accepted by the node.
func (g *Gateway) SubmitCall(ctx context.Context, to common.Address, data []byte, fees FeeParams, gasLimit uint64) (common.Hash, error) {
	if g.key == nil {
		return common.Hash{}, fmt.Errorf("no signing key configured for %s", g.chain.Name)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce on %s: %w", g.chain.Name, err)
	}

	chainID := new(big.Int).SetUint64(g.chain.ChainID)
	var txData types.TxData
	if fees.Dynamic() {
		txData = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      data,
		}
	} else {
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     data,
		}
	}

	signed, err := types.SignNewTx(g.key, types.LatestSignerForChainID(chainID), txData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx on %s: %w", g.chain.Name, err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx on %s: %w", g.chain.Name, err)
	}

	g.logger.Info("Submitted transaction",
		zap.String("chain", g.chain.Key),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()))
	return signed.Hash(), nil
}

// WaitForReceipt polls for the receipt until it lands or the timeout elapses.
// A reverted transaction still returns its receipt; callers decide what a
// non-success status means.
func (g *Gateway) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return convertReceipt(receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s on %s: %w", txHash.Hex(), g.chain.Name, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %s waiting for receipt %s on %s", timeout, txHash.Hex(), g.chain.Name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReceiptStatus fetches a receipt once, returning (nil, nil) when the
// transaction is unknown to the node.
func (g *Gateway) ReceiptStatus(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	receipt, err := g.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("receipt %s on %s: %w", txHash.Hex(), g.chain.Name, err)
	}
	return convertReceipt(receipt), nil
}

func convertReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: r.BlockNumber.Uint64(),
		GasUsed:     r.GasUsed,
	}
	for _, l := range r.Logs {
		out.Logs = append(out.Logs, Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			Index:       l.Index,
		})
	}
	return out
}

// FilterTransfers queries USDC Transfer events where the wallet is sender
// (outgoing) or recipient (incoming) across the given block range.
func (g *Gateway) FilterTransfers(ctx context.Context, wallet common.Address, direction string, fromBlock, toBlock uint64) ([]TransferLog, error) {
	walletTopic := common.BytesToHash(wallet.Bytes())
	topics := [][]common.Hash{{TransferEventSig}}
	switch direction {
	case "outgoing":
		topics = append(topics, []common.Hash{walletTopic})
	case "incoming":
		topics = append(topics, nil, []common.Hash{walletTopic})
	default:
		return nil, fmt.Errorf("unknown transfer direction %q", direction)
	}

	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{g.chain.USDCAddress},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s transfers on %s: %w", direction, g.chain.Name, err)
	}

	transfers := make([]TransferLog, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		transfers = append(transfers, TransferLog{
			TxHash:      l.TxHash,
			From:        common.BytesToAddress(l.Topics[1].Bytes()),
			To:          common.BytesToAddress(l.Topics[2].Bytes()),
			Value:       new(big.Int).SetBytes(l.Data),
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
		})
	}
	return transfers, nil
}
