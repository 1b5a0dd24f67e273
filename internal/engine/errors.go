package engine

import "errors"

// Operation rejections. Every rejection leaves state exactly as it was
// before the call.
var (
	// ErrMarketNotCreated is returned when an operation targets a market
	// that was never created.
	ErrMarketNotCreated = errors.New("market not created")

	// ErrMarketAlreadyCreated is returned by CreateMarket for a duplicate.
	ErrMarketAlreadyCreated = errors.New("market already created")

	// ErrAmountIsZero is returned when an operation carries a zero amount.
	ErrAmountIsZero = errors.New("amount is zero")

	// ErrAddressIsZero is returned when the acting user is the zero id.
	ErrAddressIsZero = errors.New("user id is zero")

	// ErrUserNotMember is returned by withdraw and repay when the user has
	// no position on the market.
	ErrUserNotMember = errors.New("user not member of market")

	// Pause rejections, one per operation class.
	ErrSupplyPaused              = errors.New("supply is paused")
	ErrBorrowPaused              = errors.New("borrow is paused")
	ErrWithdrawPaused            = errors.New("withdraw is paused")
	ErrRepayPaused               = errors.New("repay is paused")
	ErrLiquidateCollateralPaused = errors.New("liquidation of this collateral is paused")
	ErrLiquidateBorrowPaused     = errors.New("liquidation of this debt is paused")

	// ErrBorrowingNotEnabled is returned when the underlying pool has
	// borrowing disabled for the market.
	ErrBorrowingNotEnabled = errors.New("borrowing not enabled on pool")

	// ErrUnauthorisedBorrow is returned when the borrow would leave the
	// user undercollateralised.
	ErrUnauthorisedBorrow = errors.New("borrow exceeds borrowing capacity")

	// ErrUnauthorisedWithdraw is returned when the withdrawal would leave
	// the user undercollateralised.
	ErrUnauthorisedWithdraw = errors.New("withdraw exceeds borrowing capacity")

	// ErrUnauthorisedLiquidate is returned when the target position is
	// still healthy.
	ErrUnauthorisedLiquidate = errors.New("position is not liquidatable")

	// ErrPoolCallFailed wraps a failure from the underlying pool; the
	// operation is rolled back.
	ErrPoolCallFailed = errors.New("pool call failed")

	// ErrOracleFailure wraps a failure from the price oracle; the
	// operation is rolled back.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrReentrancy is returned when an operation is entered while
	// another is in flight.
	ErrReentrancy = errors.New("reentrant call")

	// ErrBadParameter is returned by governance setters for out-of-range
	// values.
	ErrBadParameter = errors.New("bad parameter")
)
