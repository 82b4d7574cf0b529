// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ad

// Native is a native ad assembled by the UI from its assets
type Native struct {
	*Base
	Headline     string
	Body         string
	CallToAction string
	IconURL      string
	ImageURL     string
}

// Banner covers fixed size banners and MRECs
type Banner struct {
	*Base
	Width  int
	Height int
	Markup string
}

// Interstitial is a full screen ad
type Interstitial struct {
	*Base
	Markup string
}

// Rewarded is a full screen ad that grants a reward on completion
type Rewarded struct {
	*Base
	RewardLabel  string
	RewardAmount int
	Markup       string
}

func NewNative(info Info, opts ...Option) *Native {
	return &Native{Base: newBase(TypeNative, info, opts...)}
}

func NewBanner(info Info, width, height int, opts ...Option) *Banner {
	return &Banner{Base: newBase(TypeBanner, info, opts...), Width: width, Height: height}
}

func NewInterstitial(info Info, opts ...Option) *Interstitial {
	return &Interstitial{Base: newBase(TypeInterstitial, info, opts...)}
}

func NewRewarded(info Info, label string, amount int, opts ...Option) *Rewarded {
	return &Rewarded{Base: newBase(TypeRewarded, info, opts...), RewardLabel: label, RewardAmount: amount}
}

// New builds the variant matching adType with empty format fields.
// Unknown types fall back to Native.
func New(adType Type, info Info, opts ...Option) Ad {
	switch adType {
	case TypeBanner:
		return NewBanner(info, 300, 250, opts...)
	case TypeInterstitial:
		return NewInterstitial(info, opts...)
	case TypeRewarded:
		return NewRewarded(info, "", 0, opts...)
	default:
		return NewNative(info, opts...)
	}
}

// Summary is a flat view of an ad used for logging and the inspection API
type Summary struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Info       Info           `json:"info"`
	LoadedAt   int64          `json:"loaded_at"`
	Moderation string         `json:"moderation"`
	Rendered   bool           `json:"rendered"`
	Paid       bool           `json:"revenue_paid"`
	Servable   bool           `json:"servable"`
	Format     map[string]any `json:"format,omitempty"`
}

// Summarize flattens a into a Summary
func Summarize(a Ad) Summary {
	s := Summary{
		ID:         a.ID().String(),
		Type:       a.Type().String(),
		Info:       a.Info(),
		LoadedAt:   a.LoadedAt().UnixMilli(),
		Moderation: a.ModerationResult().String(),
		Rendered:   a.IsRendered(),
		Paid:       a.IsRevenuePaid(),
		Servable:   a.CanBeServed(),
	}

	switch v := a.(type) {
	case *Native:
		s.Format = map[string]any{"headline": v.Headline, "body": v.Body, "cta": v.CallToAction, "icon": v.IconURL, "image": v.ImageURL}
	case *Banner:
		s.Format = map[string]any{"width": v.Width, "height": v.Height}
	case *Rewarded:
		s.Format = map[string]any{"reward_label": v.RewardLabel, "reward_amount": v.RewardAmount}
	}

	return s
}
