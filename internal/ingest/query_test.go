package ingest

import (
	"errors"
	"testing"

	"peerlend/internal/engine"
	"peerlend/internal/market"
	fpmath "peerlend/internal/math"
	"peerlend/internal/oracle"
	"peerlend/internal/pool"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ============================================================
// Test helpers
// ============================================================

var queryUser = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")

func newQueryFixture(t *testing.T) *QueryResponder {
	t.Helper()

	markets := market.NewStore()
	positions := position.NewStore()
	book := pool.NewTokenBook()
	simPool := pool.NewSimulatedPool(func() int64 { return 1_700_000_000 })
	simPool.LinkTokenBook(book)
	prices := oracle.NewStatic(positions, markets)

	eng := engine.New(engine.Deps{
		Markets:   markets,
		Positions: positions,
		Pool:      simPool,
		Tokens:    book,
		Health:    prices,
		Seize:     prices,
		Clock:     func() int64 { return 1_700_000_000 },
		Logger:    zerolog.Nop(),
	})

	simPool.AddReserve("DAI", new(uint256.Int), new(uint256.Int))
	prices.SetPrice("DAI", fpmath.Wad)
	prices.SetCollateralFactor("DAI", 8_000)
	prices.SetLiquidationThreshold("DAI", 9_000)
	if err := eng.CreateMarket("DAI", 0, 5_000); err != nil {
		t.Fatalf("create market: %v", err)
	}

	deposit := new(uint256.Int).Mul(uint256.NewInt(75), fpmath.Wad)
	book.Mint("DAI", queryUser, deposit)
	if err := eng.Supply(queryUser, queryUser, "DAI", deposit, 10); err != nil {
		t.Fatalf("supply: %v", err)
	}

	runner := NewRunner(eng, nil, zerolog.Nop())
	return NewQueryResponder(nil, runner, zerolog.Nop())
}

// ============================================================
// Query dispatch
// ============================================================

func TestQuery_Balance(t *testing.T) {
	qr := newQueryFixture(t)

	resp, err := qr.execute("balance", queryRequest{Market: "DAI", User: queryUser.String()})
	if err != nil {
		t.Fatalf("balance query: %v", err)
	}
	bal, ok := resp.(BalanceResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", resp)
	}
	if bal.SupplyOnPool != "75000000000000000000" {
		t.Errorf("SupplyOnPool = %s, want 75e18", bal.SupplyOnPool)
	}
	if bal.BorrowOnPool != "0" {
		t.Errorf("BorrowOnPool = %s, want 0", bal.BorrowOnPool)
	}
}

func TestQuery_TotalsAndDeltas(t *testing.T) {
	qr := newQueryFixture(t)

	resp, err := qr.execute("totals", queryRequest{Market: "DAI"})
	if err != nil {
		t.Fatalf("totals query: %v", err)
	}
	totals := resp.(TotalsResponse)
	if totals.TotalSupply != "75000000000000000000" {
		t.Errorf("TotalSupply = %s, want 75e18", totals.TotalSupply)
	}
	if totals.TotalBorrow != "0" {
		t.Errorf("TotalBorrow = %s, want 0", totals.TotalBorrow)
	}

	resp, err = qr.execute("deltas", queryRequest{Market: "DAI"})
	if err != nil {
		t.Fatalf("deltas query: %v", err)
	}
	deltas := resp.(DeltasResponse)
	if deltas.P2PSupplyAmount != "0" || deltas.P2PBorrowDelta != "0" {
		t.Errorf("expected empty delta ledger, got %+v", deltas)
	}
}

func TestQuery_HeadAndMarkets(t *testing.T) {
	qr := newQueryFixture(t)

	resp, err := qr.execute("head", queryRequest{Market: "DAI", List: "pool_suppliers"})
	if err != nil {
		t.Fatalf("head query: %v", err)
	}
	head := resp.(HeadResponse)
	if head.Empty || head.User != queryUser.String() {
		t.Errorf("head = %+v, want %s", head, queryUser)
	}

	resp, err = qr.execute("head", queryRequest{Market: "DAI", List: "p2p_borrowers"})
	if err != nil {
		t.Fatalf("head query: %v", err)
	}
	if !resp.(HeadResponse).Empty {
		t.Error("expected empty p2p borrower list")
	}

	resp, err = qr.execute("markets", queryRequest{})
	if err != nil {
		t.Fatalf("markets query: %v", err)
	}
	mkts := resp.(MarketsResponse)
	if len(mkts.Markets) != 1 || mkts.Markets[0] != "DAI" {
		t.Errorf("markets = %v, want [DAI]", mkts.Markets)
	}
}

func TestQuery_Rejections(t *testing.T) {
	qr := newQueryFixture(t)

	if _, err := qr.execute("balance", queryRequest{Market: "DAI", User: "not-a-uuid"}); err == nil {
		t.Error("expected error for malformed user id")
	}
	if _, err := qr.execute("deltas", queryRequest{Market: "USDC"}); !errors.Is(err, engine.ErrMarketNotCreated) {
		t.Errorf("unknown market: got %v", err)
	}
	if _, err := qr.execute("head", queryRequest{Market: "DAI", List: "sideways"}); err == nil {
		t.Error("expected error for unknown list")
	}
	if _, err := qr.execute("teleport", queryRequest{}); err == nil {
		t.Error("expected error for unknown query kind")
	}
}
