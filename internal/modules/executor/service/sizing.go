package service

import (
	"fmt"
	"math"

	"fractal_bot/internal/helper"
	"fractal_bot/internal/models"
)

const riskEpsilon = 1e-9

type SizingConfig struct {
	DefaultUnits    float64
	RiskPct         float64
	SlippagePct     float64
	VolumeStep      float64
	MinUnits        float64
	MaxUnits        float64
	AccountCurrency string
}

type SizingInput struct {
	Mode     models.SizingMode
	Symbol   string
	Units    *float64
	Entry    float64
	StopLoss float64
	Balance  float64
	Equity   float64
}

// SizingDecision - полный расчёт, пишется в заявку как аудит.
type SizingDecision struct {
	Mode            models.SizingMode `json:"mode"`
	Symbol          string            `json:"symbol"`
	AccountCurrency string            `json:"account_currency,omitempty"`
	AccountValue    float64           `json:"account_value,omitempty"`
	RiskPct         float64           `json:"risk_pct,omitempty"`
	RiskBudget      float64           `json:"risk_budget,omitempty"`
	SlippagePct     float64           `json:"slippage_pct,omitempty"`
	EffectiveBudget float64           `json:"effective_budget,omitempty"`
	StopDistance    float64           `json:"stop_distance,omitempty"`
	PerUnitRisk     float64           `json:"per_unit_risk,omitempty"`
	RawUnits        float64           `json:"raw_units,omitempty"`
	Units           float64           `json:"units"`
	Clamped         bool              `json:"clamped,omitempty"`
	ProjectedRisk   float64           `json:"projected_risk,omitempty"`
}

// SizingError - локальная детерминированная ошибка; ордер не отправляется.
type SizingError struct {
	Reason   string
	Decision SizingDecision
}

func (e *SizingError) Error() string {
	return "sizing: " + e.Reason
}

// perUnitRisk - риск на единицу в валюте счёта по дистанции стопа.
// Поддерживаются только пары из списка, остальное отказ.
var perUnitRisk = map[string]func(stopDistance float64) float64{
	"EURUSD/USD": func(d float64) float64 { return d },
}

// SizePosition - fixed: заданный объём или дефолт; risk_percent: бюджет от счёта,
// минус проскальзывание, floor к шагу, clamp к максимуму, проверка минимума и риска.
func SizePosition(cfg SizingConfig, in SizingInput) (SizingDecision, error) {
	d := SizingDecision{Mode: in.Mode, Symbol: in.Symbol}

	switch in.Mode {
	case models.SizingFixed:
		units := cfg.DefaultUnits
		if in.Units != nil {
			units = *in.Units
		}
		d.Units = units
		if units <= 0 || math.IsNaN(units) {
			return d, &SizingError{Reason: fmt.Sprintf("fixed size %v is not positive", units), Decision: d}
		}
		return d, nil

	case models.SizingRiskPercent:
	default:
		return d, &SizingError{Reason: fmt.Sprintf("unknown sizing mode %q", in.Mode), Decision: d}
	}

	d.AccountCurrency = cfg.AccountCurrency
	d.RiskPct = cfg.RiskPct
	d.SlippagePct = cfg.SlippagePct

	d.AccountValue = in.Balance
	if in.Equity > 0 {
		d.AccountValue = in.Equity
	}
	if d.AccountValue <= 0 {
		return d, &SizingError{Reason: "account value is not positive", Decision: d}
	}
	if cfg.RiskPct <= 0 {
		return d, &SizingError{Reason: "risk percent is not positive", Decision: d}
	}
	if cfg.SlippagePct < 0 || cfg.SlippagePct >= 100 {
		return d, &SizingError{Reason: fmt.Sprintf("slippage %v%% out of range", cfg.SlippagePct), Decision: d}
	}

	d.StopDistance = helper.RoundPrice(math.Abs(in.Entry-in.StopLoss), helper.PricePrecision)
	if d.StopDistance <= 0 {
		return d, &SizingError{Reason: "invalid stop distance", Decision: d}
	}

	conv, ok := perUnitRisk[in.Symbol+"/"+cfg.AccountCurrency]
	if !ok {
		return d, &SizingError{
			Reason:   fmt.Sprintf("unsupported risk conversion %s/%s", in.Symbol, cfg.AccountCurrency),
			Decision: d,
		}
	}
	d.PerUnitRisk = conv(d.StopDistance)

	d.RiskBudget = d.AccountValue * cfg.RiskPct / 100
	d.EffectiveBudget = d.RiskBudget * (1 - cfg.SlippagePct/100)
	d.RawUnits = d.EffectiveBudget / d.PerUnitRisk

	units := helper.RoundDownToStep(d.RawUnits, cfg.VolumeStep)
	if cfg.MaxUnits > 0 && units > cfg.MaxUnits {
		units = helper.RoundDownToStep(cfg.MaxUnits, cfg.VolumeStep)
		d.Clamped = true
	}
	d.Units = units
	if units < cfg.MinUnits || units <= 0 {
		return d, &SizingError{
			Reason:   fmt.Sprintf("size %.0f below minimum %.0f (risk budget too small)", units, cfg.MinUnits),
			Decision: d,
		}
	}

	d.ProjectedRisk = units * d.PerUnitRisk
	if d.ProjectedRisk > d.RiskBudget+riskEpsilon {
		return d, &SizingError{
			Reason:   fmt.Sprintf("projected risk %.4f exceeds budget %.4f", d.ProjectedRisk, d.RiskBudget),
			Decision: d,
		}
	}
	return d, nil
}
