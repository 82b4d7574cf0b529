// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/adpool/internal/simulate"
	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/api"
	"github.com/luxfi/adpool/pkg/arbitrage"
	"github.com/luxfi/adpool/pkg/backoff"
	"github.com/luxfi/adpool/pkg/client"
	"github.com/luxfi/adpool/pkg/log"
	"github.com/luxfi/adpool/pkg/metric"
	"github.com/luxfi/adpool/pkg/revenue"
	"github.com/luxfi/adpool/pkg/rtb"
)

var (
	listenAddr = flag.String("listen", ":8080", "HTTP listen address")
	logLevel   = flag.String("log-level", "info", "Log level")

	// Pool configuration
	adUnit     = flag.String("ad-unit", "default", "Ad unit requested from every network")
	placement  = flag.String("placement", "", "Placement forwarded to networks")
	adType     = flag.String("ad-type", "native", "Ad format: native, banner, interstitial, rewarded")
	cacheSize  = flag.Int("cache-size", 2, "Served ads kept per network")
	required   = flag.Int("required", 1, "Fresh ads wanted per network before refilling")
	refillTick = flag.Duration("refill-interval", 2*time.Second, "Delay between refill rounds")
	extrasFlag = flag.String("extras", "", "Extras sent with every fetch as key=value, comma-separated")

	// Networks
	simulated   = flag.Bool("simulate", true, "Use simulated networks")
	simNetworks = flag.String("sim-networks", "alpha:1.0,beta:2.5,gamma:0.8", "Simulated networks as name:mean_revenue")
	simFill     = flag.Float64("sim-fill", 0.8, "Simulated fill rate")
	simLatency  = flag.Duration("sim-latency", 200*time.Millisecond, "Simulated network latency")
	rtbBidders  = flag.String("rtb", "", "OpenRTB bidders as name=url, comma-separated")
	rtbFloor    = flag.Float64("rtb-floor", 0, "OpenRTB floor price")

	// Version info
	Version   = "dev"
	GitCommit = "unknown"
)

// Daemon owns the pool, the refill loop and the HTTP server
type Daemon struct {
	clients    []*client.Client
	arb        *arbitrage.ListeningArbitrageur
	ledger     *revenue.Ledger
	api        *api.Server
	httpServer *http.Server
	refill     *refiller
	log        log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func main() {
	flag.Parse()

	fmt.Printf("adpoold %s (commit: %s)\n", Version, GitCommit)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	d, err := NewDaemon(logger)
	if err != nil {
		fmt.Printf("Failed to create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Start(); err != nil {
		fmt.Printf("Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.Shutdown(ctx); err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
	}
}

// NewDaemon builds every component from the command line flags
func NewDaemon(logger log.Logger) (*Daemon, error) {
	t, err := ad.ParseType(*adType)
	if err != nil {
		return nil, err
	}

	metrics, err := metric.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	loaders, err := buildLoaders(logger)
	if err != nil {
		return nil, err
	}

	extras, err := buildExtras(*extrasFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid -extras: %w", err)
	}

	d := &Daemon{
		ledger: revenue.NewLedger(logger.With(log.String("component", "ledger"))),
		log:    logger,
		done:   make(chan struct{}),
	}

	sources := make([]arbitrage.Source, 0, len(loaders))
	for _, nl := range loaders {
		cfg := client.DefaultConfig(nl.name, *adUnit)
		cfg.AdCacheSize = *cacheSize
		cfg.Placement = *placement
		cfg.Type = t

		c, err := client.New(cfg, nl.loader,
			client.WithLogger(logger.With(log.String("component", "client"))),
			client.WithMetrics(metrics))
		if err != nil {
			d.closeClients()
			return nil, fmt.Errorf("failed to create client %s: %w", nl.name, err)
		}
		d.clients = append(d.clients, c)
		sources = append(sources, c)
	}

	d.arb, err = arbitrage.NewListening(sources,
		arbitrage.WithConfig(arbitrage.Config{RequiredAvailableAdCount: *required}),
		arbitrage.WithLogger(logger.With(log.String("component", "arbitrage"))),
		arbitrage.WithMetrics(metrics))
	if err != nil {
		d.closeClients()
		return nil, err
	}
	d.arb.AddAdRevenueListener(d.ledger)

	d.api = api.NewServer(d.arb, d.clients,
		api.WithLedger(d.ledger),
		api.WithMetrics(metrics),
		api.WithExtras(extras),
		api.WithLogger(logger.With(log.String("component", "api"))))

	d.refill = &refiller{
		arb:      d.arb,
		interval: *refillTick,
		backoff:  backoff.Default(),
		extras:   extras,
		log:      logger.With(log.String("component", "refill")),
	}

	return d, nil
}

type namedLoader struct {
	name   string
	loader client.Loader
}

func buildLoaders(logger log.Logger) ([]namedLoader, error) {
	var loaders []namedLoader

	if *simulated {
		sims, err := parsePairs(*simNetworks, ":")
		if err != nil {
			return nil, fmt.Errorf("invalid -sim-networks: %w", err)
		}
		for i, p := range sims {
			var mean float64
			if _, err := fmt.Sscanf(p.value, "%g", &mean); err != nil {
				return nil, fmt.Errorf("invalid revenue for %s: %w", p.name, err)
			}
			sim := simulate.New(mean, *simFill, *simLatency, time.Now().UnixNano()+int64(i))
			loaders = append(loaders, namedLoader{name: p.name, loader: sim})
		}
	}

	if *rtbBidders != "" {
		bidders, err := parsePairs(*rtbBidders, "=")
		if err != nil {
			return nil, fmt.Errorf("invalid -rtb: %w", err)
		}
		for _, p := range bidders {
			cfg := rtb.DefaultConfig(p.name)
			cfg.FloorPrice = decimal.NewFromFloat(*rtbFloor)
			l, err := rtb.NewLoader(cfg, rtb.NewHTTPBidder(p.value), logger.With(log.String("component", "rtb")))
			if err != nil {
				return nil, err
			}
			loaders = append(loaders, namedLoader{name: p.name, loader: l})
		}
	}

	if len(loaders) == 0 {
		return nil, errors.New("no networks configured")
	}
	return loaders, nil
}

// buildExtras turns "k=v,..." into a provider sending the same extras to
// every network
func buildExtras(s string) (arbitrage.ExtrasProvider, error) {
	pairs, err := parsePairs(s, "=")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	extras := make([]ad.Extra, len(pairs))
	for i, p := range pairs {
		extras[i] = ad.Extra{Key: p.name, Value: p.value}
	}
	return func(string) []ad.Extra { return extras }, nil
}

type pair struct {
	name  string
	value string
}

// parsePairs splits "a<sep>1,b<sep>2" into pairs
func parsePairs(s, sep string) ([]pair, error) {
	var out []pair
	seen := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, ok := strings.Cut(item, sep)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("malformed entry %q", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate key %q", name)
		}
		seen[name] = true
		out = append(out, pair{name: name, value: value})
	}
	return out, nil
}

// Start launches the refill loop and the HTTP server
func (d *Daemon) Start() error {
	d.log.Info("starting adpoold",
		log.Int("networks", len(d.clients)),
		log.String("listen", *listenAddr))

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	for _, c := range d.clients {
		c.RegisterToLifecycle(ctx)
	}

	go func() {
		defer close(d.done)
		d.refill.run(ctx)
	}()

	d.httpServer = &http.Server{
		Addr:              *listenAddr,
		Handler:           d.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		d.log.Info("HTTP server listening")
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("HTTP server error", log.Error(err))
		}
	}()

	return nil
}

// Shutdown stops the server, the refill loop and closes every client
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.log.Info("shutting down")

	var err error
	if d.httpServer != nil {
		err = d.httpServer.Shutdown(ctx)
	}
	d.api.Close()

	if d.cancel != nil {
		d.cancel()
		select {
		case <-d.done:
		case <-ctx.Done():
		}
	}

	d.arb.Close()
	d.closeClients()

	period := time.Now().UTC()
	for _, c := range d.clients {
		if _, err := d.ledger.Settle(c.Network(), period); err != nil && !errors.Is(err, revenue.ErrNothingPending) {
			d.log.Warn("settlement failed", log.String("network", c.Network()), log.Error(err))
		}
	}
	for name, total := range d.ledger.Totals() {
		d.log.Info("revenue", log.String("network", name), log.String("total", total.String()))
	}

	return err
}

func (d *Daemon) closeClients() {
	for _, c := range d.clients {
		c.Close()
	}
}
