// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package revenue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/ids"
	"github.com/luxfi/adpool/pkg/log"
)

var (
	ErrNothingPending = errors.New("no pending revenue")
	ErrNegativeAmount = errors.New("negative revenue amount")
)

// Ledger accumulates paid ad revenue per network. It is a revenue listener
// meant to be registered on clients or a listening arbitrageur.
type Ledger struct {
	mu          sync.RWMutex
	totals      map[string]decimal.Decimal
	pending     map[string]decimal.Decimal
	impressions map[string]int
	receipts    []Receipt
	settlements []Settlement
	log         log.Logger
	now         func() time.Time
}

// Receipt is one paid impression
type Receipt struct {
	AdID     ids.ID          `json:"ad_id"`
	Network  string          `json:"network"`
	AdUnit   string          `json:"ad_unit"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	PaidAt   time.Time       `json:"paid_at"`
}

// Settlement closes the pending revenue of one network for a period
type Settlement struct {
	Network     string          `json:"network"`
	Amount      decimal.Decimal `json:"amount"`
	Impressions int             `json:"impressions"`
	Period      time.Time       `json:"period"`
}

func NewLedger(logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.NoLog
	}
	return &Ledger{
		totals:      make(map[string]decimal.Decimal),
		pending:     make(map[string]decimal.Decimal),
		impressions: make(map[string]int),
		log:         logger,
		now:         time.Now,
	}
}

// OnAdRevenuePaid records the revenue of a. Negative amounts are dropped.
func (l *Ledger) OnAdRevenuePaid(a ad.Ad) {
	info := a.Info()
	if _, err := l.Record(a.ID(), info); err != nil {
		l.log.Warn("revenue not recorded",
			log.Stringer("ad", a.ID()),
			log.Error(err))
	}
}

// Record adds one receipt for the ad identified by id
func (l *Ledger) Record(id ids.ID, info ad.Info) (Receipt, error) {
	amount := decimal.NewFromFloat(info.Revenue)
	if amount.IsNegative() {
		return Receipt{}, ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	receipt := Receipt{
		AdID:     id,
		Network:  info.Network,
		AdUnit:   info.AdUnit,
		Amount:   amount,
		Currency: info.Currency,
		PaidAt:   l.now(),
	}
	l.receipts = append(l.receipts, receipt)
	l.totals[info.Network] = l.totals[info.Network].Add(amount)
	l.pending[info.Network] = l.pending[info.Network].Add(amount)
	l.impressions[info.Network]++

	l.log.Debug("revenue recorded",
		log.String("network", info.Network),
		log.String("amount", amount.String()))

	return receipt, nil
}

// Total returns all revenue recorded for network
func (l *Ledger) Total(network string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.totals[network]
}

// Totals returns a copy of the per network totals
func (l *Ledger) Totals() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(l.totals))
	for network, total := range l.totals {
		out[network] = total
	}
	return out
}

// GrandTotal sums every network
func (l *Ledger) GrandTotal() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := decimal.Zero
	for _, total := range l.totals {
		sum = sum.Add(total)
	}
	return sum
}

// Receipts returns the receipts in the order they were recorded
func (l *Ledger) Receipts() []Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]Receipt(nil), l.receipts...)
}

// Pending returns revenue recorded for network since its last settlement
func (l *Ledger) Pending(network string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.pending[network]
}

// Settle closes the pending revenue of network for period
func (l *Ledger) Settle(network string, period time.Time) (Settlement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.pending[network]
	if !ok || amount.IsZero() {
		return Settlement{}, ErrNothingPending
	}

	settlement := Settlement{
		Network:     network,
		Amount:      amount,
		Impressions: l.impressions[network],
		Period:      period,
	}
	delete(l.pending, network)
	delete(l.impressions, network)
	l.settlements = append(l.settlements, settlement)

	l.log.Info("revenue settled",
		log.String("network", network),
		log.String("amount", amount.String()),
		log.Int("impressions", settlement.Impressions))

	return settlement, nil
}

// Settlements returns closed settlements ordered by network then period
func (l *Ledger) Settlements() []Settlement {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := append([]Settlement(nil), l.settlements...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out
}
