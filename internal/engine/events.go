package engine

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType discriminator for engine event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketCreated
	EventTypeSupplied
	EventTypeBorrowed
	EventTypeWithdrawn
	EventTypeRepaid
	EventTypeLiquidated
	EventTypeIndexesUpdated
	EventTypeDeltasUpdated
)

func (et EventType) String() string {
	switch et {
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypeSupplied:
		return "Supplied"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeLiquidated:
		return "Liquidated"
	case EventTypeIndexesUpdated:
		return "IndexesUpdated"
	case EventTypeDeltasUpdated:
		return "DeltasUpdated"
	default:
		return "Unknown"
	}
}

// Event is the interface all engine event payloads implement.
type Event interface {
	EventType() EventType
	MarketID() string
}

// Sink receives events emitted by the engine after an operation commits.
// Implementations must not block; the engine calls Emit while holding
// the operation guard.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

type MarketCreated struct {
	Market    string
	Timestamp int64
}

func (e *MarketCreated) EventType() EventType { return EventTypeMarketCreated }
func (e *MarketCreated) MarketID() string     { return e.Market }

// Supplied records a completed supply. User is the credited beneficiary;
// Payer funded the deposit. Balances are the beneficiary's position after
// the operation, in scaled units.
type Supplied struct {
	Market        string
	User          uuid.UUID
	Payer         uuid.UUID
	Amount        *uint256.Int
	BalanceOnPool *uint256.Int
	BalanceInP2P  *uint256.Int
	Timestamp     int64
}

func (e *Supplied) EventType() EventType { return EventTypeSupplied }
func (e *Supplied) MarketID() string     { return e.Market }

type Borrowed struct {
	Market        string
	User          uuid.UUID
	Amount        *uint256.Int
	BalanceOnPool *uint256.Int
	BalanceInP2P  *uint256.Int
	Timestamp     int64
}

func (e *Borrowed) EventType() EventType { return EventTypeBorrowed }
func (e *Borrowed) MarketID() string     { return e.Market }

type Withdrawn struct {
	Market        string
	User          uuid.UUID
	Receiver      uuid.UUID
	Amount        *uint256.Int
	BalanceOnPool *uint256.Int
	BalanceInP2P  *uint256.Int
	Timestamp     int64
}

func (e *Withdrawn) EventType() EventType { return EventTypeWithdrawn }
func (e *Withdrawn) MarketID() string     { return e.Market }

type Repaid struct {
	Market        string
	User          uuid.UUID
	Repayer       uuid.UUID
	Amount        *uint256.Int
	BalanceOnPool *uint256.Int
	BalanceInP2P  *uint256.Int
	Timestamp     int64
}

func (e *Repaid) EventType() EventType { return EventTypeRepaid }
func (e *Repaid) MarketID() string     { return e.Market }

type Liquidated struct {
	BorrowedMarket   string
	CollateralMarket string
	Liquidator       uuid.UUID
	Borrower         uuid.UUID
	Repaid           *uint256.Int
	Seized           *uint256.Int
	Timestamp        int64
}

func (e *Liquidated) EventType() EventType { return EventTypeLiquidated }
func (e *Liquidated) MarketID() string     { return e.BorrowedMarket }

// IndexesUpdated records a peer-to-peer index refresh.
type IndexesUpdated struct {
	Market          string
	P2PSupplyIndex  *uint256.Int
	P2PBorrowIndex  *uint256.Int
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int
	Timestamp       int64
}

func (e *IndexesUpdated) EventType() EventType { return EventTypeIndexesUpdated }
func (e *IndexesUpdated) MarketID() string     { return e.Market }

// DeltasUpdated records a change to a market's delta ledger, emitted
// after the operation that moved it commits.
type DeltasUpdated struct {
	Market          string
	P2PSupplyDelta  *uint256.Int
	P2PBorrowDelta  *uint256.Int
	P2PSupplyAmount *uint256.Int
	P2PBorrowAmount *uint256.Int
	Timestamp       int64
}

func (e *DeltasUpdated) EventType() EventType { return EventTypeDeltasUpdated }
func (e *DeltasUpdated) MarketID() string     { return e.Market }
