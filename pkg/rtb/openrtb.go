// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/client"
	"github.com/luxfi/adpool/pkg/log"
)

var (
	ErrNoBid         = errors.New("rtb: no bid")
	ErrNilBidder     = errors.New("rtb: nil bidder")
	ErrEmptyNetwork  = errors.New("rtb: empty network name")
	ErrInvalidExtras = errors.New("rtb: extras are not JSON encodable")
)

// Config describes the inventory announced in every bid request
type Config struct {
	Network    string
	AppID      string
	AppBundle  string
	Currency   string
	FloorPrice decimal.Decimal
	Timeout    time.Duration

	// Banner dimensions used for TypeBanner requests
	BannerWidth  int64
	BannerHeight int64

	// TTL bounds how long a won ad can be served when the bid has no
	// expiry of its own.
	TTL time.Duration

	BlockedCategories  []string
	BlockedAdvertisers []string
	Test               bool
}

func DefaultConfig(network string) Config {
	return Config{
		Network:      network,
		Currency:     "USD",
		FloorPrice:   decimal.Zero,
		Timeout:      300 * time.Millisecond,
		BannerWidth:  320,
		BannerHeight: 50,
		TTL:          30 * time.Minute,
	}
}

// Stats counts bid request outcomes
type Stats struct {
	Requests  uint64 `json:"requests"`
	Bids      uint64 `json:"bids"`
	NoBids    uint64 `json:"no_bids"`
	Errors    uint64 `json:"errors"`
	// Discarded counts reusable ads dropped after a successful load
	Discarded uint64 `json:"discarded"`
}

// Loader is a client.Loader that buys each ad through an OpenRTB bidder.
// The cleared price becomes the ad revenue used for arbitration.
type Loader struct {
	cfg    Config
	bidder Bidder
	log    log.Logger
	now    func() time.Time

	requests  atomic.Uint64
	bids      atomic.Uint64
	noBids    atomic.Uint64
	errs      atomic.Uint64
	discarded atomic.Uint64
}

var _ client.Loader = (*Loader)(nil)

func NewLoader(cfg Config, bidder Bidder, logger log.Logger) (*Loader, error) {
	if bidder == nil {
		return nil, ErrNilBidder
	}
	if cfg.Network == "" {
		return nil, ErrEmptyNetwork
	}
	if logger == nil {
		logger = log.NoLog
	}
	return &Loader{
		cfg:    cfg,
		bidder: bidder,
		log:    logger.With(log.String("network", cfg.Network)),
		now:    time.Now,
	}, nil
}

// Load runs one bid request and turns the winning bid into an ad. A
// reusable ad stays with the client unless a bid wins, since exchange
// creatives cannot be refilled.
func (l *Loader) Load(ctx context.Context, req client.LoadRequest) (ad.Ad, error) {
	bidReq, err := l.buildRequest(req)
	if err != nil {
		l.errs.Add(1)
		return nil, err
	}

	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	l.requests.Add(1)
	resp, err := l.bidder.Bid(ctx, bidReq)
	if errors.Is(err, ErrNoBid) {
		l.noBids.Add(1)
		return nil, err
	}
	if err != nil {
		l.errs.Add(1)
		return nil, fmt.Errorf("bid request %s: %w", bidReq.ID, err)
	}

	winner := l.selectWinner(bidReq, resp)
	if winner == nil {
		l.noBids.Add(1)
		return nil, ErrNoBid
	}
	l.bids.Add(1)

	if req.Reusable != nil {
		l.Destroy(req.Reusable)
		l.discarded.Add(1)
	}

	l.log.Debug("bid won",
		log.String("request", bidReq.ID),
		log.String("bid", winner.ID),
		log.Float64("price", winner.Price))

	return l.newAd(req, winner), nil
}

// Destroy has nothing to release for exchange bought ads
func (l *Loader) Destroy(ad.Ad) {}

func (l *Loader) Stats() Stats {
	return Stats{
		Requests:  l.requests.Load(),
		Bids:      l.bids.Load(),
		NoBids:    l.noBids.Load(),
		Errors:    l.errs.Load(),
		Discarded: l.discarded.Load(),
	}
}

func (l *Loader) buildRequest(req client.LoadRequest) (*openrtb2.BidRequest, error) {
	imp := openrtb2.Imp{
		ID:          "1",
		TagID:       req.AdUnit,
		BidFloor:    l.cfg.FloorPrice.InexactFloat64(),
		BidFloorCur: l.cfg.Currency,
	}

	switch req.Type {
	case ad.TypeBanner:
		w, h := l.cfg.BannerWidth, l.cfg.BannerHeight
		imp.Banner = &openrtb2.Banner{W: &w, H: &h}
	case ad.TypeInterstitial:
		imp.Instl = 1
		imp.Banner = &openrtb2.Banner{}
	case ad.TypeRewarded:
		imp.Instl = 1
		imp.Banner = &openrtb2.Banner{}
		imp.Ext = json.RawMessage(`{"rewarded":1}`)
	default:
		imp.Native = &openrtb2.Native{Request: `{"ver":"1.2"}`, Ver: "1.2"}
	}

	bidReq := &openrtb2.BidRequest{
		ID:   uuid.NewString(),
		Imp:  []openrtb2.Imp{imp},
		Cur:  []string{l.cfg.Currency},
		BCat: l.cfg.BlockedCategories,
		BAdv: l.cfg.BlockedAdvertisers,
		App: &openrtb2.App{
			ID:     l.cfg.AppID,
			Bundle: l.cfg.AppBundle,
		},
	}
	if l.cfg.Timeout > 0 {
		bidReq.TMax = l.cfg.Timeout.Milliseconds()
	}
	if l.cfg.Test {
		bidReq.Test = 1
	}

	if len(req.Extras) > 0 {
		extras := make(map[string]interface{}, len(req.Extras))
		for _, e := range req.Extras {
			extras[e.Key] = e.Value
		}
		raw, err := json.Marshal(map[string]interface{}{"extras": extras, "placement": req.Placement})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExtras, err)
		}
		bidReq.Ext = raw
	}

	return bidReq, nil
}

// selectWinner picks the highest bid for the request's impression that
// clears the floor and passes the block lists.
func (l *Loader) selectWinner(req *openrtb2.BidRequest, resp *openrtb2.BidResponse) *openrtb2.Bid {
	if resp == nil || resp.ID != req.ID {
		return nil
	}

	floor := l.cfg.FloorPrice.InexactFloat64()
	var winner *openrtb2.Bid
	for i := range resp.SeatBid {
		for j := range resp.SeatBid[i].Bid {
			bid := &resp.SeatBid[i].Bid[j]
			if bid.ImpID != req.Imp[0].ID || bid.Price < floor {
				continue
			}
			if !l.passesBlockLists(bid) {
				continue
			}
			if winner == nil || bid.Price > winner.Price {
				winner = bid
			}
		}
	}
	return winner
}

func (l *Loader) passesBlockLists(bid *openrtb2.Bid) bool {
	for _, cat := range bid.Cat {
		for _, blocked := range l.cfg.BlockedCategories {
			if cat == blocked {
				return false
			}
		}
	}
	for _, domain := range bid.ADomain {
		for _, blocked := range l.cfg.BlockedAdvertisers {
			if domain == blocked {
				return false
			}
		}
	}
	return true
}

func (l *Loader) newAd(req client.LoadRequest, bid *openrtb2.Bid) ad.Ad {
	info := ad.Info{
		Network:          l.cfg.Network,
		AdUnit:           req.AdUnit,
		Placement:        req.Placement,
		CreativeID:       bid.CrID,
		Revenue:          bid.Price,
		RevenuePrecision: "exact",
		Currency:         l.cfg.Currency,
	}

	ttl := l.cfg.TTL
	if bid.Exp > 0 {
		ttl = time.Duration(bid.Exp) * time.Second
	}
	var opts []ad.Option
	if ttl > 0 {
		opts = append(opts, ad.WithExpiry(l.now().Add(ttl)))
	}

	switch req.Type {
	case ad.TypeBanner:
		w, h := bid.W, bid.H
		if w == 0 || h == 0 {
			w, h = l.cfg.BannerWidth, l.cfg.BannerHeight
		}
		b := ad.NewBanner(info, int(w), int(h), opts...)
		b.Markup = bid.AdM
		return b
	case ad.TypeInterstitial:
		i := ad.NewInterstitial(info, opts...)
		i.Markup = bid.AdM
		return i
	case ad.TypeRewarded:
		r := ad.NewRewarded(info, "reward", 1, opts...)
		r.Markup = bid.AdM
		return r
	default:
		n := ad.NewNative(info, opts...)
		n.Body = bid.AdM
		return n
	}
}
