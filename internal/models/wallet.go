package models

import "time"

type Wallet struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Balance       int64     `json:"balance"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type JournalDirection string

const (
	DirectionCredit JournalDirection = "credit"
	DirectionDebit  JournalDirection = "debit"
)

type JournalEntry struct {
	ID        int64            `json:"id"`
	WalletID  int64            `json:"wallet_id"`
	Amount    int64            `json:"amount"`
	Direction JournalDirection `json:"direction"`
	CreatedAt time.Time        `json:"created_at"`
}

// JournalTotals is the per-direction sum of a wallet's journal entries.
type JournalTotals struct {
	Credits int64 `json:"credits"`
	Debits  int64 `json:"debits"`
}

func (t JournalTotals) Balance() int64 {
	return t.Credits - t.Debits
}
