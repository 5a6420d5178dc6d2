package service

import (
	"context"
	"fmt"
	"math"
)

// TraderSnapshot - баланс/эквити счёта в валюте депозита.
type TraderSnapshot struct {
	Balance     float64
	Equity      float64
	MoneyDigits int
	Raw         []byte
}

type Symbol struct {
	ID      int64
	Name    string
	Enabled bool
}

func (c *Client) TraderSnapshot(ctx context.Context) (TraderSnapshot, error) {
	s, err := c.readySession(ctx)
	if err != nil {
		return TraderSnapshot{}, err
	}
	f, err := c.roundTrip(ctx, s, PayloadTraderReq, map[string]any{
		"ctidTraderAccountId": c.cfg.AccountID,
	}, PayloadTraderRes, c.cfg.RequestTimeout)
	if err != nil {
		return TraderSnapshot{}, err
	}

	digits := int64(2)
	if d, ok := optInt(f.Payload, "trader.moneyDigits"); ok {
		digits = d
	}
	scale := math.Pow10(int(digits))

	balance, ok := optFloat(f.Payload, "trader.balance")
	if !ok {
		return TraderSnapshot{}, fmt.Errorf("ctrader: trader snapshot without balance")
	}
	snap := TraderSnapshot{
		Balance:     balance / scale,
		MoneyDigits: int(digits),
		Raw:         f.Raw,
	}
	if eq, ok := optFloat(f.Payload, "trader.equity"); ok {
		snap.Equity = eq / scale
	}
	return snap, nil
}

func (c *Client) SymbolsList(ctx context.Context) ([]Symbol, error) {
	s, err := c.readySession(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.roundTrip(ctx, s, PayloadSymbolsListReq, map[string]any{
		"ctidTraderAccountId":    c.cfg.AccountID,
		"includeArchivedSymbols": false,
	}, PayloadSymbolsListRes, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	items := f.Payload.Get("symbol").Array()
	out := make([]Symbol, 0, len(items))
	for _, it := range items {
		id, ok := optInt(it, "symbolId")
		name := optString(it, "symbolName")
		if !ok || name == "" {
			continue
		}
		enabled := true
		if v := it.Get("enabled"); v.Exists() {
			enabled = v.Bool()
		}
		out = append(out, Symbol{ID: id, Name: name, Enabled: enabled})
	}

	c.symMu.Lock()
	for _, sym := range out {
		c.symbols[sym.Name] = sym.ID
	}
	c.symMu.Unlock()
	return out, nil
}

// SymbolID - id инструмента по имени, с кешем поверх SymbolsList.
func (c *Client) SymbolID(ctx context.Context, name string) (int64, error) {
	c.symMu.RLock()
	id, ok := c.symbols[name]
	c.symMu.RUnlock()
	if ok {
		return id, nil
	}

	if _, err := c.SymbolsList(ctx); err != nil {
		return 0, fmt.Errorf("resolve symbol %s: %w", name, err)
	}
	c.symMu.RLock()
	id, ok = c.symbols[name]
	c.symMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("ctrader: unknown symbol %s", name)
	}
	return id, nil
}
