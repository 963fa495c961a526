package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Backend moves stablecoin to a wallet and returns a transfer reference.
// Exactly one implementation is selected at startup; callers never probe
// configuration per call.
type Backend interface {
	Transfer(ctx context.Context, toWallet string, amount decimal.Decimal) (string, error)
}

// IndeterminateError reports a transfer that was submitted but whose final
// outcome is unknown. The transaction may still mine, so re-executing the
// transfer risks paying twice; callers must park the work for
// reconciliation instead of retrying.
type IndeterminateError struct {
	TxHash string
	Err    error
}

func (e *IndeterminateError) Error() string {
	return fmt.Sprintf("transfer %s outcome indeterminate: %v", e.TxHash, e.Err)
}

func (e *IndeterminateError) Unwrap() error {
	return e.Err
}

// ToBaseUnits converts a stablecoin amount to the token's integer base-unit
// representation. Fails if the amount is not positive or carries more
// precision than the token supports.
func ToBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}

	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds token precision of %d decimals", amount, decimals)
	}

	return shifted.BigInt(), nil
}
