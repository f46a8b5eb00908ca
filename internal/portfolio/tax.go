package portfolio

import (
	"math"
	"time"
)

// Carryforward rules: a loss is usable for at most 5 tax years from the
// year it was realized, and at most 50% of any entry may be deducted
// against a single year's gain.
const (
	lossCarryMaxYears     = 5
	lossDeductionCap      = 0.5
	lossCarryMinRemaining = 0.01
)

// NeedsTaxSettlement reports whether the date is a January day of a year
// that has not been settled yet.
func (a *Account) NeedsTaxSettlement(date time.Time) bool {
	if !a.cfg.TaxEnabled {
		return false
	}
	return date.Month() == time.January && date.Year() > a.lastTaxYear
}

// SettleAnnualTax closes the tax year: expires old carryforward entries,
// books this year's loss or offsets this year's profit against carried
// losses, charges tax on the residual profit and resets the annual P&L.
func (a *Account) SettleAnnualTax(date time.Time) {
	if !a.cfg.TaxEnabled {
		return
	}

	currentYear := date.Year()
	a.lastTaxYear = currentYear

	annualPnL := a.annualRealizedPnL
	taxableProfit := annualPnL
	var deductions []LossDeduction

	unexpired := a.lossCarryforward[:0]
	for _, entry := range a.lossCarryforward {
		if currentYear-entry.Year < lossCarryMaxYears {
			unexpired = append(unexpired, entry)
		}
	}
	a.lossCarryforward = unexpired

	if annualPnL < 0 {
		a.lossCarryforward = append(a.lossCarryforward, LossCarry{
			Year:   currentYear,
			Amount: math.Abs(annualPnL),
		})
	} else if annualPnL > 0 && len(a.lossCarryforward) > 0 {
		remainingProfit := annualPnL
		var updated []LossCarry

		for _, entry := range a.lossCarryforward {
			if remainingProfit <= 0 {
				updated = append(updated, entry)
				continue
			}

			deduction := math.Min(entry.Amount*lossDeductionCap, remainingProfit)
			deductions = append(deductions, LossDeduction{
				Year:         entry.Year,
				OriginalLoss: entry.Amount,
				Deduction:    deduction,
			})

			remainingProfit -= deduction
			if remaining := entry.Amount - deduction; remaining > lossCarryMinRemaining {
				updated = append(updated, LossCarry{Year: entry.Year, Amount: remaining})
			}
		}

		a.lossCarryforward = updated
		taxableProfit = remainingProfit
	}

	tax := 0.0
	if taxableProfit > 0 {
		tax = taxableProfit * (a.cfg.TaxRatePct / 100)
		a.cash -= tax
	}

	if tax > 0 || annualPnL != 0 || len(deductions) > 0 {
		remaining := make([]LossCarry, len(a.lossCarryforward))
		copy(remaining, a.lossCarryforward)

		a.eventLog = append(a.eventLog, Event{
			Date:            Day(date),
			Type:            EventTaxSettlement,
			Sold:            map[string]SaleRecord{},
			Bought:          nil,
			Cash:            a.cash,
			AnnualPnL:       annualPnL,
			TaxableProfit:   taxableProfit,
			LossDeductions:  deductions,
			RemainingLosses: remaining,
			Tax:             tax,
		})
	}

	a.annualRealizedPnL = 0
}

// AnnualRealizedPnL returns the net profit realized since the last tax
// settlement.
func (a *Account) AnnualRealizedPnL() float64 {
	return a.annualRealizedPnL
}

// LossCarryforward returns the unexpired carried losses in booking order.
func (a *Account) LossCarryforward() []LossCarry {
	return a.lossCarryforward
}
