package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Reasons recorded on ledger rows. (order_id, reason) is unique, so each
// reason can be applied to an order at most once.
const (
	ReasonOrderPayment   = "order_payment"
	ReasonOrderRefund    = "order_refund"
	ReasonPointsRedeemed = "points_redeemed"
	ReasonPointsRestored = "points_restored"
	ReasonOrderDelivered = "order_delivered"
	ReasonPointsClawback = "points_clawback"
	ReasonAdminCredit    = "admin_credit"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateEntry      = errors.New("ledger entry already applied")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("ledger amount must be positive")
)

type WalletTx struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Kind         Kind            `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	OrderID      string          `json:"orderId,omitempty"`
	Reason       string          `json:"reason"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type PointsTx struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Kind         Kind      `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	OrderID      string    `json:"orderId,omitempty"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Wallet struct {
	Balance      decimal.Decimal `json:"balance"`
	Transactions []WalletTx      `json:"transactions"`
}

type Points struct {
	Balance      int64      `json:"balance"`
	Transactions []PointsTx `json:"transactions"`
}

type Summary struct {
	UserID string `json:"userId"`
	Wallet Wallet `json:"wallet"`
	Points Points `json:"points"`
}

// WalletEntry is a pending wallet mutation. OrderID is optional.
type WalletEntry struct {
	UserID  string
	Kind    Kind
	Amount  decimal.Decimal
	OrderID string
	Reason  string
}

func (e WalletEntry) delta() decimal.Decimal {
	if e.Kind == KindDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

type PointsEntry struct {
	UserID  string
	Kind    Kind
	Amount  int64
	OrderID string
	Reason  string
}

func (e PointsEntry) delta() int64 {
	if e.Kind == KindDebit {
		return -e.Amount
	}
	return e.Amount
}

// ReplayWallet sums a wallet log. A wallet whose stored balance differs from
// its replayed log has drifted.
func ReplayWallet(txs []WalletTx) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txs {
		if t.Kind == KindDebit {
			sum = sum.Sub(t.Amount)
		} else {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

func ReplayPoints(txs []PointsTx) int64 {
	var sum int64
	for _, t := range txs {
		if t.Kind == KindDebit {
			sum -= t.Amount
		} else {
			sum += t.Amount
		}
	}
	return sum
}

// Drift reports the difference between stored balances and replayed logs.
type Drift struct {
	UserID         string          `json:"userId"`
	WalletStored   decimal.Decimal `json:"walletStored"`
	WalletReplayed decimal.Decimal `json:"walletReplayed"`
	PointsStored   int64           `json:"pointsStored"`
	PointsReplayed int64           `json:"pointsReplayed"`
}

func (d Drift) Consistent() bool {
	return d.WalletStored.Equal(d.WalletReplayed) && d.PointsStored == d.PointsReplayed
}
