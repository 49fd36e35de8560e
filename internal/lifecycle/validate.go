package lifecycle

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// ValidationErrors aggregates every parameter violation found in one pass.
// Validation never fails fast; the user should see the full list at once.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "invalid parameters: " + strings.Join(v, "; ")
}

func checkAmount(errs ValidationErrors, field, s string) ValidationErrors {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return append(errs, fmt.Sprintf("%s %q is not a decimal integer", field, s))
	}
	if v.Sign() <= 0 {
		return append(errs, fmt.Sprintf("%s must be positive", field))
	}
	return errs
}

func checkDeadline(errs ValidationErrors, deadlineMS, nowMS int64) ValidationErrors {
	if deadlineMS != 0 && deadlineMS <= nowMS {
		return append(errs, "deadline has already elapsed")
	}
	return errs
}

func validateSwap(p types.SwapParams, exactIn bool, nowMS int64) ValidationErrors {
	var errs ValidationErrors
	if p.AssetIn == p.AssetOut {
		errs = append(errs, "input and output assets are identical")
	}
	if exactIn {
		errs = checkAmount(errs, "amountIn", p.AmountIn)
		errs = checkAmount(errs, "amountOutMin", p.AmountOutMin)
	} else {
		errs = checkAmount(errs, "amountOut", p.AmountOut)
		errs = checkAmount(errs, "amountInMax", p.AmountInMax)
	}
	return checkDeadline(errs, p.DeadlineMS, nowMS)
}

func validateAddLiquidity(p types.AddLiquidityParams, nowMS int64) ValidationErrors {
	var errs ValidationErrors
	if p.Asset1 == p.Asset2 {
		errs = append(errs, "pool assets are identical")
	}
	errs = checkAmount(errs, "amount1Desired", p.Amount1Desired)
	errs = checkAmount(errs, "amount2Desired", p.Amount2Desired)
	return checkDeadline(errs, p.DeadlineMS, nowMS)
}

func validateRemoveLiquidity(p types.RemoveLiquidityParams, nowMS int64) ValidationErrors {
	var errs ValidationErrors
	if p.Asset1 == p.Asset2 {
		errs = append(errs, "pool assets are identical")
	}
	errs = checkAmount(errs, "lpBurn", p.LPBurn)
	return checkDeadline(errs, p.DeadlineMS, nowMS)
}

func validateCreatePool(p types.CreatePoolParams) ValidationErrors {
	var errs ValidationErrors
	if p.Asset1 == p.Asset2 {
		errs = append(errs, "pool assets are identical")
	}
	return errs
}
