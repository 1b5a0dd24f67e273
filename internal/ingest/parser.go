package ingest

import (
	"encoding/json"
	"fmt"

	"peerlend/internal/engine"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Command is a parsed, validated operation ready to run against the engine.
// Budget carries the caller's matching budget when the message set one;
// Apply falls back to the engine's configured default otherwise.
type Command interface {
	CommandType() string
	Market() string
	Apply(e *engine.Engine) error
}

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed Command.
func ParseRawCommand(raw RawCommand, cmdType string) (Command, error) {
	switch cmdType {
	case "supply":
		return parseSupply(raw.Data)
	case "borrow":
		return parseBorrow(raw.Data)
	case "withdraw":
		return parseWithdraw(raw.Data)
	case "repay":
		return parseRepay(raw.Data)
	case "liquidate":
		return parseLiquidate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", cmdType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings in underlying base units.

type supplyJSON struct {
	UserID   string  `json:"user_id"`
	OnBehalf string  `json:"on_behalf,omitempty"`
	Market   string  `json:"market"`
	Amount   string  `json:"amount"`
	Budget   *uint64 `json:"budget,omitempty"`
}

// SupplyCommand deposits underlying pulled from the payer. OnBehalf is
// the credited beneficiary and defaults to the payer when the message
// leaves it unset.
type SupplyCommand struct {
	Payer    uuid.UUID
	OnBehalf uuid.UUID
	MarketID string
	Amount   *uint256.Int
	Budget   *uint64
}

func (c *SupplyCommand) CommandType() string { return "supply" }
func (c *SupplyCommand) Market() string      { return c.MarketID }

func (c *SupplyCommand) Apply(e *engine.Engine) error {
	return e.Supply(c.Payer, c.OnBehalf, c.MarketID, c.Amount, budgetOrDefault(c.Budget, e))
}

func parseSupply(data []byte) (*SupplyCommand, error) {
	var j supplyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse supply: %w", err)
	}
	payer, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	onBehalf := payer
	if j.OnBehalf != "" {
		onBehalf, err = uuid.Parse(j.OnBehalf)
		if err != nil {
			return nil, fmt.Errorf("parse on_behalf: %w", err)
		}
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &SupplyCommand{Payer: payer, OnBehalf: onBehalf, MarketID: j.Market, Amount: amount, Budget: j.Budget}, nil
}

type borrowJSON struct {
	UserID string  `json:"user_id"`
	Market string  `json:"market"`
	Amount string  `json:"amount"`
	Budget *uint64 `json:"budget,omitempty"`
}

// BorrowCommand draws underlying against the user's collateral.
type BorrowCommand struct {
	User     uuid.UUID
	MarketID string
	Amount   *uint256.Int
	Budget   *uint64
}

func (c *BorrowCommand) CommandType() string { return "borrow" }
func (c *BorrowCommand) Market() string      { return c.MarketID }

func (c *BorrowCommand) Apply(e *engine.Engine) error {
	return e.Borrow(c.User, c.MarketID, c.Amount, budgetOrDefault(c.Budget, e))
}

func parseBorrow(data []byte) (*BorrowCommand, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse borrow: %w", err)
	}
	user, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &BorrowCommand{User: user, MarketID: j.Market, Amount: amount, Budget: j.Budget}, nil
}

type withdrawJSON struct {
	UserID     string  `json:"user_id"`
	ReceiverID string  `json:"receiver_id,omitempty"`
	Market     string  `json:"market"`
	Amount     string  `json:"amount"`
	Budget     *uint64 `json:"budget,omitempty"`
}

// WithdrawCommand removes supplied underlying. Receiver defaults to the
// position owner when the message leaves it unset.
type WithdrawCommand struct {
	User     uuid.UUID
	Receiver uuid.UUID
	MarketID string
	Amount   *uint256.Int
	Budget   *uint64
}

func (c *WithdrawCommand) CommandType() string { return "withdraw" }
func (c *WithdrawCommand) Market() string      { return c.MarketID }

func (c *WithdrawCommand) Apply(e *engine.Engine) error {
	_, err := e.Withdraw(c.User, c.Receiver, c.MarketID, c.Amount, budgetOrDefault(c.Budget, e))
	return err
}

func parseWithdraw(data []byte) (*WithdrawCommand, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw: %w", err)
	}
	user, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	receiver := user
	if j.ReceiverID != "" {
		receiver, err = uuid.Parse(j.ReceiverID)
		if err != nil {
			return nil, fmt.Errorf("parse receiver_id: %w", err)
		}
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &WithdrawCommand{User: user, Receiver: receiver, MarketID: j.Market, Amount: amount, Budget: j.Budget}, nil
}

type repayJSON struct {
	RepayerID string  `json:"repayer_id"`
	OnBehalf  string  `json:"on_behalf,omitempty"`
	Market    string  `json:"market"`
	Amount    string  `json:"amount"`
	Budget    *uint64 `json:"budget,omitempty"`
}

// RepayCommand pays down a borrow position. OnBehalf defaults to the
// repayer when the message leaves it unset.
type RepayCommand struct {
	Repayer  uuid.UUID
	OnBehalf uuid.UUID
	MarketID string
	Amount   *uint256.Int
	Budget   *uint64
}

func (c *RepayCommand) CommandType() string { return "repay" }
func (c *RepayCommand) Market() string      { return c.MarketID }

func (c *RepayCommand) Apply(e *engine.Engine) error {
	_, err := e.Repay(c.Repayer, c.OnBehalf, c.MarketID, c.Amount, budgetOrDefault(c.Budget, e))
	return err
}

func parseRepay(data []byte) (*RepayCommand, error) {
	var j repayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse repay: %w", err)
	}
	repayer, err := uuid.Parse(j.RepayerID)
	if err != nil {
		return nil, fmt.Errorf("parse repayer_id: %w", err)
	}
	onBehalf := repayer
	if j.OnBehalf != "" {
		onBehalf, err = uuid.Parse(j.OnBehalf)
		if err != nil {
			return nil, fmt.Errorf("parse on_behalf: %w", err)
		}
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &RepayCommand{Repayer: repayer, OnBehalf: onBehalf, MarketID: j.Market, Amount: amount, Budget: j.Budget}, nil
}

type liquidateJSON struct {
	LiquidatorID     string  `json:"liquidator_id"`
	BorrowerID       string  `json:"borrower_id"`
	BorrowedMarket   string  `json:"borrowed_market"`
	CollateralMarket string  `json:"collateral_market"`
	Amount           string  `json:"amount"`
	Budget           *uint64 `json:"budget,omitempty"`
}

// LiquidateCommand repays part of an unhealthy borrower's debt and seizes
// collateral in exchange.
type LiquidateCommand struct {
	Liquidator       uuid.UUID
	Borrower         uuid.UUID
	BorrowedMarket   string
	CollateralMarket string
	Amount           *uint256.Int
	Budget           *uint64
}

func (c *LiquidateCommand) CommandType() string { return "liquidate" }
func (c *LiquidateCommand) Market() string      { return c.BorrowedMarket }

func (c *LiquidateCommand) Apply(e *engine.Engine) error {
	_, _, err := e.Liquidate(c.Liquidator, c.Borrower, c.BorrowedMarket, c.CollateralMarket, c.Amount, budgetOrDefault(c.Budget, e))
	return err
}

func parseLiquidate(data []byte) (*LiquidateCommand, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse liquidate: %w", err)
	}
	liquidator, err := uuid.Parse(j.LiquidatorID)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator_id: %w", err)
	}
	borrower, err := uuid.Parse(j.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("parse borrower_id: %w", err)
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &LiquidateCommand{
		Liquidator:       liquidator,
		Borrower:         borrower,
		BorrowedMarket:   j.BorrowedMarket,
		CollateralMarket: j.CollateralMarket,
		Amount:           amount,
		Budget:           j.Budget,
	}, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return amount, nil
}

func budgetOrDefault(b *uint64, e *engine.Engine) uint64 {
	if b != nil {
		return *b
	}
	return e.MatchBudget()
}
