package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

const vaultABI = `[{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]}]`

// ChainBackend signs and submits real stablecoin transfers. With a vault
// address it calls the vault's withdraw; otherwise it transfers from the
// operator's own token balance.
type ChainBackend struct {
	client      *ethclient.Client
	operatorKey *ecdsa.PrivateKey
	chainID     *big.Int
	token       common.Address
	vault       *common.Address
	decimals    int
	erc20       abi.ABI
	vaultCalls  abi.ABI
	log         *slog.Logger
}

// NewChainBackend connects to the RPC endpoint and prepares the operator
// signer. Fails fast on an unreachable endpoint or malformed key so a
// misconfigured deployment never reaches the webhook path.
func NewChainBackend(ctx context.Context, rpcURL, operatorKeyHex, tokenAddr, vaultAddr string, decimals int, log *slog.Logger) (*ChainBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	if !common.IsHexAddress(tokenAddr) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddr)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	vaultCalls, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}

	b := &ChainBackend{
		client:      client,
		operatorKey: key,
		chainID:     chainID,
		token:       common.HexToAddress(tokenAddr),
		decimals:    decimals,
		erc20:       erc20,
		vaultCalls:  vaultCalls,
		log:         log,
	}

	if vaultAddr != "" {
		if !common.IsHexAddress(vaultAddr) {
			return nil, fmt.Errorf("invalid vault address %q", vaultAddr)
		}
		vault := common.HexToAddress(vaultAddr)
		b.vault = &vault
	}

	return b, nil
}

// Transfer submits the transfer and waits for it to be mined. A reverted
// transaction is an error, not a reference.
func (b *ChainBackend) Transfer(ctx context.Context, toWallet string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(toWallet) {
		return "", fmt.Errorf("invalid recipient address %q", toWallet)
	}
	to := common.HexToAddress(toWallet)

	units, err := ToBaseUnits(amount, b.decimals)
	if err != nil {
		return "", err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(b.operatorKey, b.chainID)
	if err != nil {
		return "", fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	var tx *types.Transaction
	if b.vault != nil {
		contract := bind.NewBoundContract(*b.vault, b.vaultCalls, b.client, b.client, b.client)
		tx, err = contract.Transact(opts, "withdraw", b.token, units, to)
	} else {
		contract := bind.NewBoundContract(b.token, b.erc20, b.client, b.client, b.client)
		tx, err = contract.Transact(opts, "transfer", to, units)
	}
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}

	b.log.Info("transfer submitted",
		"tx_hash", tx.Hash().Hex(),
		"to", toWallet,
		"units", units.String(),
		"via_vault", b.vault != nil,
	)

	// Past this point the transaction is submitted. A confirmation failure
	// does not mean nothing moved: the transfer may still mine.
	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return "", &IndeterminateError{
			TxHash: tx.Hash().Hex(),
			Err:    fmt.Errorf("wait for confirmation: %w", err),
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transfer %s reverted on-chain", tx.Hash().Hex())
	}

	return tx.Hash().Hex(), nil
}
