package engine

import (
	"errors"
	"fmt"

	"peerlend/internal/market"
)

// CreateMarket registers a new market with the given fee spread and rate
// cursor, both in basis points.
func (e *Engine) CreateMarket(underlying string, reserveFactorBps, cursorBps uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	now := e.clock()
	if _, err := e.markets.Create(underlying, reserveFactorBps, cursorBps, now); err != nil {
		if errors.Is(err, market.ErrAlreadyCreated) {
			return ErrMarketAlreadyCreated
		}
		return fmt.Errorf("%w: %v", ErrBadParameter, err)
	}
	e.listsFor(underlying)

	e.log.Info().
		Str("market", underlying).
		Uint64("reserve_factor_bps", reserveFactorBps).
		Uint64("cursor_bps", cursorBps).
		Msg("market created")

	e.sink.Emit(&MarketCreated{Market: underlying, Timestamp: now})
	return nil
}

// SetReserveFactor updates the fee spread. Indexes accrue under the old
// parameter first so the change never applies retroactively.
func (e *Engine) SetReserveFactor(underlying string, bps uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, _, err := e.loadMarket(underlying)
	if err != nil {
		return err
	}
	e.refreshIndexes(m)
	if err := e.markets.SetReserveFactor(underlying, bps); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParameter, err)
	}
	e.log.Info().Str("market", underlying).Uint64("bps", bps).Msg("reserve factor updated")
	return nil
}

// SetIndexCursor updates the peer-to-peer rate interpolation point.
func (e *Engine) SetIndexCursor(underlying string, bps uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, _, err := e.loadMarket(underlying)
	if err != nil {
		return err
	}
	e.refreshIndexes(m)
	if err := e.markets.SetIndexCursor(underlying, bps); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParameter, err)
	}
	e.log.Info().Str("market", underlying).Uint64("bps", bps).Msg("index cursor updated")
	return nil
}

// SetPauseFlags replaces the market's status flags.
func (e *Engine) SetPauseFlags(underlying string, f market.PauseFlags) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if _, _, err := e.loadMarket(underlying); err != nil {
		return err
	}
	if err := e.markets.SetPauseFlags(underlying, f); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParameter, err)
	}
	e.log.Info().Str("market", underlying).Interface("flags", f).Msg("pause flags updated")
	return nil
}
