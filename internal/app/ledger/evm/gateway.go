// Package evm commits allocations to the WaterAllocation contract on an
// EVM-compatible chain over JSON-RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

// ABI of the two authority entry points of the WaterAllocation contract.
const waterAllocationABI = `[
  {"type":"function","name":"createWaterAllocation","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"string"},
    {"name":"farmerID","type":"string"},
    {"name":"allocatedVolume","type":"uint256"},
    {"name":"timestamp","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"addAdditionalAllocation","stateMutability":"nonpayable","inputs":[
    {"name":"baseId","type":"string"},
    {"name":"additionalVolume","type":"uint256"},
    {"name":"timestamp","type":"uint256"}],"outputs":[]}
]`

// Config holds the RPC endpoint, contract address and authority key.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	ChainID         int64
	Timeout         time.Duration
}

// Gateway signs and submits contract calls. Each commit dials the RPC
// endpoint, sends one transaction, waits for the receipt and closes the
// client again.
type Gateway struct {
	cfg      Config
	parsed   abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	log      *logger.Logger
}

var _ ledger.Gateway = (*Gateway)(nil)

// New parses the ABI and key once; per-call state is only the RPC client.
func New(cfg Config, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.NewDefault("ledger-evm")
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("evm rpc url required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	parsed, err := abi.JSON(strings.NewReader(waterAllocationABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse authority key: %w", err)
	}

	return &Gateway{
		cfg:      cfg,
		parsed:   parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		log:      log,
	}, nil
}

// CommitAllocation records a base allocation and returns the tx hash.
func (g *Gateway) CommitAllocation(ctx context.Context, id, farmerID string, volume int64, ts time.Time) (string, error) {
	return g.send(ctx, "createWaterAllocation", id, farmerID, big.NewInt(volume), big.NewInt(ts.Unix()))
}

// CommitTopUp records an additional volume against an existing allocation.
func (g *Gateway) CommitTopUp(ctx context.Context, baseID string, volume int64, ts time.Time) (string, error) {
	return g.send(ctx, "addAdditionalAllocation", baseID, big.NewInt(volume), big.NewInt(ts.Unix()))
}

func (g *Gateway) send(ctx context.Context, method string, args ...any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	data, err := g.parsed.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w: %w", method, err, faults.ErrLedgerRejected)
	}

	client, err := ethclient.DialContext(ctx, g.cfg.RPCURL)
	if err != nil {
		return "", fmt.Errorf("dial rpc: %w: %w", err, faults.ErrLedgerUnavailable)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w: %w", err, faults.ErrLedgerUnavailable)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w: %w", err, faults.ErrLedgerUnavailable)
	}

	// Estimation executes the call; a revert here means the contract refused
	// the arguments (duplicate id, unknown base), which is permanent.
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: g.from,
		To:   &g.contract,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate %s: %w: %w", method, err, faults.ErrLedgerRejected)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &g.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w: %w", method, err, faults.ErrLedgerRejected)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send %s: %w: %w", method, err, faults.ErrLedgerUnavailable)
	}

	receipt, err := bind.WaitMined(ctx, client, signed)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %w: %w", method, err, faults.ErrLedgerUnavailable)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted: %w", signed.Hash().Hex(), faults.ErrLedgerRejected)
	}

	g.log.WithField("tx_hash", signed.Hash().Hex()).
		WithField("op", method).
		Info("evm commit mined")
	return signed.Hash().Hex(), nil
}
