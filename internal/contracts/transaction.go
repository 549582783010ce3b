package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the side of a ledger entry
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

// Transaction is an immutable ledger entry emitted by the rebalance engine.
// ⭐ SSOT: simulator → sink ledger record
type Transaction struct {
	Date     time.Time       `json:"date"`
	Action   Action          `json:"action"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
}

// NewTransaction builds a transaction with Amount = Quantity × Price.
func NewTransaction(date time.Time, action Action, symbol string, qty int64, price decimal.Decimal) Transaction {
	return Transaction{
		Date:     date,
		Action:   action,
		Symbol:   symbol,
		Quantity: qty,
		Price:    price,
		Amount:   price.Mul(decimal.NewFromInt(qty)),
	}
}

// IsBuy checks if the transaction is a purchase
func (t *Transaction) IsBuy() bool {
	return t.Action == ActionBuy
}

// IsSell checks if the transaction is a sale
func (t *Transaction) IsSell() bool {
	return t.Action == ActionSell
}

// CashDelta returns the signed effect of the transaction on cash.
func (t *Transaction) CashDelta() decimal.Decimal {
	if t.IsBuy() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TransactionColumns are the exported ledger columns, in order.
var TransactionColumns = []string{"Date", "Action", "Symbol", "Quantity", "Price", "Amount"}

// Row renders the transaction with TransactionColumns ordering.
func (t *Transaction) Row() []string {
	return []string{
		t.Date.Format(DateLayout),
		string(t.Action),
		t.Symbol,
		decimal.NewFromInt(t.Quantity).String(),
		t.Price.String(),
		t.Amount.String(),
	}
}
