// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ad

import "fmt"

// Type is the ad format, fixed per variant
type Type int

const (
	TypeNative Type = iota + 1
	TypeBanner
	TypeInterstitial
	TypeRewarded
)

func (t Type) String() string {
	switch t {
	case TypeNative:
		return "native"
	case TypeBanner:
		return "banner"
	case TypeInterstitial:
		return "interstitial"
	case TypeRewarded:
		return "rewarded"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType parses the String form of a Type
func ParseType(s string) (Type, error) {
	switch s {
	case "native":
		return TypeNative, nil
	case "banner", "mrec":
		return TypeBanner, nil
	case "interstitial":
		return TypeInterstitial, nil
	case "rewarded":
		return TypeRewarded, nil
	}
	return 0, fmt.Errorf("unknown ad type %q", s)
}

// ModerationResult is the outcome reported by a moderation SDK.
// ModerationNone means the ad was never moderated.
type ModerationResult int32

const (
	ModerationNone ModerationResult = iota
	ModerationUnknown
	ModerationVerified
	ModerationBlocked
	ModerationReported
)

func (m ModerationResult) String() string {
	switch m {
	case ModerationNone:
		return "none"
	case ModerationUnknown:
		return "unknown"
	case ModerationVerified:
		return "verified"
	case ModerationBlocked:
		return "blocked"
	case ModerationReported:
		return "reported"
	default:
		return fmt.Sprintf("moderation(%d)", int32(m))
	}
}

// RenderState is Fresh until the ad is first displayed
type RenderState uint32

const (
	Fresh RenderState = iota
	Rendered
)

// PaymentState is Unpaid until the network attributes revenue
type PaymentState uint32

const (
	Unpaid PaymentState = iota
	Paid
)

// Info is the network metadata captured when the ad loaded
type Info struct {
	Network          string  `json:"network"`
	AdUnit           string  `json:"ad_unit"`
	Placement        string  `json:"placement,omitempty"`
	CreativeID       string  `json:"creative_id,omitempty"`
	Revenue          float64 `json:"revenue"`
	RevenuePrecision string  `json:"revenue_precision,omitempty"`
	Currency         string  `json:"currency,omitempty"`
}

// Extra is a local extra forwarded to the network on fetch
type Extra struct {
	Key   string
	Value interface{}
}
