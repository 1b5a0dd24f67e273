package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"peerlend/internal/engine"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const queryRoot = "peerlend.query"

// Query requests arrive over plain NATS request-reply on
// peerlend.query.{kind} subjects with a JSON body. Responses carry
// amounts as decimal strings so ray-scaled values survive the wire.

type queryRequest struct {
	Market string `json:"market"`
	User   string `json:"user,omitempty"`
	List   string `json:"list,omitempty"`
}

type queryError struct {
	Error string `json:"error"`
}

// BalanceResponse is a user's four position compartments in scaled units.
type BalanceResponse struct {
	User         string `json:"user"`
	Market       string `json:"market"`
	SupplyOnPool string `json:"supply_on_pool"`
	SupplyInP2P  string `json:"supply_in_p2p"`
	BorrowOnPool string `json:"borrow_on_pool"`
	BorrowInP2P  string `json:"borrow_in_p2p"`
}

// DeltasResponse is a market's delta ledger.
type DeltasResponse struct {
	Market          string `json:"market"`
	P2PSupplyDelta  string `json:"p2p_supply_delta"`
	P2PBorrowDelta  string `json:"p2p_borrow_delta"`
	P2PSupplyAmount string `json:"p2p_supply_amount"`
	P2PBorrowAmount string `json:"p2p_borrow_amount"`
}

// IndexesResponse is a market's current exchange indexes, ray-scaled.
type IndexesResponse struct {
	Market          string `json:"market"`
	P2PSupplyIndex  string `json:"p2p_supply_index"`
	P2PBorrowIndex  string `json:"p2p_borrow_index"`
	PoolSupplyIndex string `json:"pool_supply_index"`
	PoolBorrowIndex string `json:"pool_borrow_index"`
}

// TotalsResponse aggregates a market's supply and debt in underlying
// units at the current indexes.
type TotalsResponse struct {
	Market      string `json:"market"`
	TotalSupply string `json:"total_supply"`
	TotalBorrow string `json:"total_borrow"`
}

// HeadResponse is the largest entry of one of a market's ordered
// structures; Empty is set when the structure holds no entries.
type HeadResponse struct {
	Market string `json:"market"`
	List   string `json:"list"`
	User   string `json:"user,omitempty"`
	Empty  bool   `json:"empty"`
}

// MarketsResponse lists all created market identifiers.
type MarketsResponse struct {
	Markets []string `json:"markets"`
}

var listKinds = map[string]engine.ListKind{
	"pool_suppliers": engine.PoolSuppliers,
	"p2p_suppliers":  engine.P2PSuppliers,
	"pool_borrowers": engine.PoolBorrowers,
	"p2p_borrowers":  engine.P2PBorrowers,
}

// QueryResponder serves read-only engine queries over NATS
// request-reply, serialized against the command runner.
type QueryResponder struct {
	nc     *nats.Conn
	runner *Runner
	sub    *nats.Subscription
	logger zerolog.Logger
}

func NewQueryResponder(nc *nats.Conn, runner *Runner, logger zerolog.Logger) *QueryResponder {
	return &QueryResponder{
		nc:     nc,
		runner: runner,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

// Start subscribes to the query subjects. Replies are best effort; a
// requester that timed out simply misses its response.
func (qr *QueryResponder) Start() error {
	sub, err := qr.nc.Subscribe(queryRoot+".>", func(msg *nats.Msg) {
		qr.respond(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", queryRoot, err)
	}
	qr.sub = sub
	qr.logger.Info().Str("subject", queryRoot+".>").Msg("query responder started")
	return nil
}

// Stop unsubscribes the responder.
func (qr *QueryResponder) Stop() {
	if qr.sub != nil {
		qr.sub.Unsubscribe()
	}
}

func (qr *QueryResponder) respond(msg *nats.Msg) {
	kind := strings.TrimPrefix(msg.Subject, queryRoot+".")

	var req queryRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			qr.reply(msg, queryError{Error: fmt.Sprintf("malformed query: %v", err)})
			return
		}
	}

	resp, err := qr.execute(kind, req)
	if err != nil {
		qr.reply(msg, queryError{Error: err.Error()})
		return
	}
	qr.reply(msg, resp)
}

func (qr *QueryResponder) execute(kind string, req queryRequest) (any, error) {
	switch kind {
	case "balance":
		user, err := uuid.Parse(req.User)
		if err != nil {
			return nil, fmt.Errorf("user: %w", err)
		}
		var resp BalanceResponse
		qr.runner.View(func(e *engine.Engine) {
			b := e.UserBalanceOf(user, req.Market)
			resp = BalanceResponse{
				User:         req.User,
				Market:       req.Market,
				SupplyOnPool: b.SupplyOnPool.Dec(),
				SupplyInP2P:  b.SupplyInP2P.Dec(),
				BorrowOnPool: b.BorrowOnPool.Dec(),
				BorrowInP2P:  b.BorrowInP2P.Dec(),
			}
		})
		return resp, nil

	case "deltas":
		var resp DeltasResponse
		var ok bool
		qr.runner.View(func(e *engine.Engine) {
			d, found := e.MarketDeltas(req.Market)
			if !found {
				return
			}
			ok = true
			resp = DeltasResponse{
				Market:          req.Market,
				P2PSupplyDelta:  d.P2PSupplyDelta.Dec(),
				P2PBorrowDelta:  d.P2PBorrowDelta.Dec(),
				P2PSupplyAmount: d.P2PSupplyAmount.Dec(),
				P2PBorrowAmount: d.P2PBorrowAmount.Dec(),
			}
		})
		if !ok {
			return nil, engine.ErrMarketNotCreated
		}
		return resp, nil

	case "indexes":
		var resp IndexesResponse
		var ok bool
		qr.runner.View(func(e *engine.Engine) {
			idx, found := e.MarketIndexes(req.Market)
			if !found {
				return
			}
			ok = true
			resp = IndexesResponse{
				Market:          req.Market,
				P2PSupplyIndex:  idx.P2PSupplyIndex.Dec(),
				P2PBorrowIndex:  idx.P2PBorrowIndex.Dec(),
				PoolSupplyIndex: idx.PoolSupplyIndex.Dec(),
				PoolBorrowIndex: idx.PoolBorrowIndex.Dec(),
			}
		})
		if !ok {
			return nil, engine.ErrMarketNotCreated
		}
		return resp, nil

	case "totals":
		var resp TotalsResponse
		var ok bool
		qr.runner.View(func(e *engine.Engine) {
			supply, found := e.TotalMarketSupply(req.Market)
			if !found {
				return
			}
			borrow, _ := e.TotalMarketBorrow(req.Market)
			ok = true
			resp = TotalsResponse{
				Market:      req.Market,
				TotalSupply: supply.Dec(),
				TotalBorrow: borrow.Dec(),
			}
		})
		if !ok {
			return nil, engine.ErrMarketNotCreated
		}
		return resp, nil

	case "head":
		listKind, ok := listKinds[req.List]
		if !ok {
			return nil, fmt.Errorf("unknown list: %q", req.List)
		}
		resp := HeadResponse{Market: req.Market, List: req.List}
		qr.runner.View(func(e *engine.Engine) {
			user, found := e.Head(req.Market, listKind)
			if !found {
				resp.Empty = true
				return
			}
			resp.User = user.String()
		})
		return resp, nil

	case "markets":
		var resp MarketsResponse
		qr.runner.View(func(e *engine.Engine) {
			resp.Markets = e.Markets()
		})
		return resp, nil

	default:
		return nil, fmt.Errorf("unknown query kind: %q", kind)
	}
}

func (qr *QueryResponder) reply(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		qr.logger.Error().Err(err).Msg("marshal query response")
		return
	}
	if err := msg.Respond(data); err != nil {
		qr.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("query reply failed")
	}
}
