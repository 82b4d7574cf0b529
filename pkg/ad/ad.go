// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ad

import (
	"sync/atomic"
	"time"

	"github.com/luxfi/adpool/pkg/ids"
)

// Ad is one loaded ad instance. The implementations are the variants in this
// package: *Native, *Banner, *Interstitial and *Rewarded.
type Ad interface {
	ID() ids.ID
	Type() Type
	Info() Info
	LoadedAt() time.Time

	ModerationResult() ModerationResult
	SetModerationResult(ModerationResult)
	IsBlocked() bool
	IsExpired() bool
	CanBeServed() bool

	IsRendered() bool
	MarkRendered() bool
	IsRevenuePaid() bool
	MarkRevenuePaid() bool

	// Release runs the network release hook when the ad goes back to its pool
	Release()

	base() *Base
}

// Base carries the lifecycle shared by every variant
type Base struct {
	id       ids.ID
	adType   Type
	info     Info
	loadedAt time.Time

	moderation atomic.Int32
	render     atomic.Uint32
	payment    atomic.Uint32

	expiresAt   time.Time
	expired     func() bool
	serveCheck  func() bool
	releaseHook func()
	now         func() time.Time
}

// Option customizes a Base at construction
type Option func(*Base)

// WithExpiry makes the ad expire at deadline
func WithExpiry(deadline time.Time) Option {
	return func(b *Base) {
		b.expiresAt = deadline
	}
}

// WithExpiryCheck delegates IsExpired to the network
func WithExpiryCheck(expired func() bool) Option {
	return func(b *Base) {
		b.expired = expired
	}
}

// WithServeCheck adds a network specific condition to CanBeServed
func WithServeCheck(check func() bool) Option {
	return func(b *Base) {
		b.serveCheck = check
	}
}

// WithReleaseHook sets the hook run by Release
func WithReleaseHook(hook func()) Option {
	return func(b *Base) {
		b.releaseHook = hook
	}
}

// WithClock sets the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(b *Base) {
		b.now = now
	}
}

func newBase(adType Type, info Info, opts ...Option) *Base {
	b := &Base{
		id:     ids.New(),
		adType: adType,
		info:   info,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.loadedAt.IsZero() {
		b.loadedAt = b.now()
	}
	return b
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() ids.ID          { return b.id }
func (b *Base) Type() Type          { return b.adType }
func (b *Base) Info() Info          { return b.info }
func (b *Base) LoadedAt() time.Time { return b.loadedAt }

func (b *Base) ModerationResult() ModerationResult {
	return ModerationResult(b.moderation.Load())
}

func (b *Base) SetModerationResult(result ModerationResult) {
	b.moderation.Store(int32(result))
}

func (b *Base) IsBlocked() bool {
	return b.ModerationResult() == ModerationBlocked
}

// IsExpired is evaluated on every call
func (b *Base) IsExpired() bool {
	if b.expired != nil && b.expired() {
		return true
	}
	return !b.expiresAt.IsZero() && !b.now().Before(b.expiresAt)
}

func (b *Base) CanBeServed() bool {
	if b.IsBlocked() || b.IsExpired() {
		return false
	}
	return b.serveCheck == nil || b.serveCheck()
}

func (b *Base) RenderState() RenderState {
	return RenderState(b.render.Load())
}

func (b *Base) IsRendered() bool {
	return b.RenderState() == Rendered
}

// MarkRendered moves Fresh to Rendered. It reports whether this call made
// the transition.
func (b *Base) MarkRendered() bool {
	return b.render.CompareAndSwap(uint32(Fresh), uint32(Rendered))
}

func (b *Base) PaymentState() PaymentState {
	return PaymentState(b.payment.Load())
}

func (b *Base) IsRevenuePaid() bool {
	return b.PaymentState() == Paid
}

// MarkRevenuePaid moves Unpaid to Paid. It reports whether this call made
// the transition.
func (b *Base) MarkRevenuePaid() bool {
	return b.payment.CompareAndSwap(uint32(Unpaid), uint32(Paid))
}

func (b *Base) Release() {
	if b.releaseHook != nil {
		b.releaseHook()
	}
}
