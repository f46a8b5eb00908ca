package portfolio

import (
	"time"
)

// Day is a calendar date that marshals as YYYY-MM-DD.
type Day time.Time

// MarshalJSON renders the date without a time component.
func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON parses a YYYY-MM-DD date.
func (d *Day) UnmarshalJSON(data []byte) error {
	t, err := time.Parse(`"2006-01-02"`, string(data))
	if err != nil {
		return err
	}
	*d = Day(t)
	return nil
}

// Time returns the underlying time value.
func (d Day) Time() time.Time {
	return time.Time(d)
}

// Event types recorded in the account's event log.
const (
	EventRebalance     = "rebalance"
	EventStopLoss      = "stop_loss"
	EventStopLossSmart = "stop_loss_smart"
	EventTaxSettlement = "tax_settlement"
)

// SaleRecord describes one position closed by a sale.
type SaleRecord struct {
	Revenue   float64 `json:"revenue"`
	Profit    float64 `json:"profit"`
	ReturnPct float64 `json:"return_pct"`
	Fee       float64 `json:"fee"`
}

// PurchaseRecord describes one position opened by a buy.
type PurchaseRecord struct {
	Ticker   string   `json:"ticker"`
	Quantity int      `json:"quantity"`
	Price    float64  `json:"price"`
	Score    float64  `json:"score"`
	Fee      float64  `json:"fee"`
	VaR      *float64 `json:"var,omitempty"`
}

// LossDeduction records one carryforward entry applied at tax settlement.
type LossDeduction struct {
	Year         int     `json:"year"`
	OriginalLoss float64 `json:"original_loss"`
	Deduction    float64 `json:"deduction"`
}

// LossCarry is an unexpired capital loss eligible for future deduction.
type LossCarry struct {
	Year   int     `json:"year"`
	Amount float64 `json:"amount"`
}

// Event is one entry in the account's event log. Sold, Bought and Cash are
// present on every event; the tax fields only on tax settlements.
type Event struct {
	Date   Day                   `json:"date"`
	Type   string                `json:"type"`
	Sold   map[string]SaleRecord `json:"sold"`
	Bought []PurchaseRecord      `json:"bought"`
	Cash   float64               `json:"cash"`

	AnnualPnL       float64         `json:"annual_pnl,omitempty"`
	TaxableProfit   float64         `json:"taxable_profit,omitempty"`
	LossDeductions  []LossDeduction `json:"loss_deductions,omitempty"`
	RemainingLosses []LossCarry     `json:"remaining_losses,omitempty"`
	Tax             float64         `json:"tax,omitempty"`
}

// Snapshot is one daily valuation of the account.
type Snapshot struct {
	Date       Day     `json:"date"`
	TotalValue float64 `json:"total_value"`
	Cash       float64 `json:"cash"`
}
