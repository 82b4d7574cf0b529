// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prebid/openrtb/v20/openrtb2"
)

// Bidder answers OpenRTB bid requests. It returns ErrNoBid when the
// exchange declines to bid.
type Bidder interface {
	Bid(ctx context.Context, req *openrtb2.BidRequest) (*openrtb2.BidResponse, error)
}

// BidderFunc adapts a function to Bidder
type BidderFunc func(ctx context.Context, req *openrtb2.BidRequest) (*openrtb2.BidResponse, error)

func (f BidderFunc) Bid(ctx context.Context, req *openrtb2.BidRequest) (*openrtb2.BidResponse, error) {
	return f(ctx, req)
}

// HTTPBidder posts bid requests as JSON to an OpenRTB endpoint
type HTTPBidder struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPBidder(endpoint string) *HTTPBidder {
	return &HTTPBidder{Endpoint: endpoint, Client: http.DefaultClient}
}

func (b *HTTPBidder) Bid(ctx context.Context, req *openrtb2.BidRequest) (*openrtb2.BidResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode bid request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Openrtb-Version", "2.6")

	httpClient := b.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNoBid
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("bidder %s returned %s", b.Endpoint, resp.Status)
	}

	var bidResp openrtb2.BidResponse
	if err := json.NewDecoder(resp.Body).Decode(&bidResp); err != nil {
		return nil, fmt.Errorf("decode bid response: %w", err)
	}
	if len(bidResp.SeatBid) == 0 {
		return nil, ErrNoBid
	}
	return &bidResp, nil
}
