// Package pricefeed fetches pair prices over HTTP with a documented
// fallback: primary source, then secondary, then the last quote this process
// observed (tagged "synthetic").
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
)

// quoteResponse is the wire shape both sources answer with.
type quoteResponse struct {
	Price     string `json:"price"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Client queries the primary source and falls back on timeout or error.
type Client struct {
	primary  *resty.Client
	fallback *resty.Client

	mu   sync.RWMutex
	last map[string]domain.MarketQuote // pair -> last good quote

	log *logrus.Entry
}

// New builds a client. fallbackURL may be empty.
func New(primaryURL, fallbackURL string, timeout time.Duration) *Client {
	c := &Client{
		primary: newResty(primaryURL, timeout),
		last:    make(map[string]domain.MarketQuote),
		log:     logrus.WithField("component", "pricefeed"),
	}
	if fallbackURL != "" {
		c.fallback = newResty(fallbackURL, timeout)
	}
	return c
}

func newResty(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
}

// Quote returns a price for the pair. The primary source is tried first;
// transient failures are retried against the fallback before the call fails
// with ErrQuoteUnavailable.
func (c *Client) Quote(ctx context.Context, assetIn, assetOut string) (domain.MarketQuote, error) {
	pair := assetIn + "/" + assetOut

	q, err := c.fetch(ctx, c.primary, assetIn, assetOut)
	if err == nil {
		c.remember(pair, q)
		return q, nil
	}
	c.log.WithField("pair", pair).Warnf("primary price source failed: %v", err)

	if c.fallback != nil {
		q, ferr := c.fetch(ctx, c.fallback, assetIn, assetOut)
		if ferr == nil {
			c.remember(pair, q)
			return q, nil
		}
		c.log.WithField("pair", pair).Warnf("fallback price source failed: %v", ferr)
	}

	if last, ok := c.lastQuote(pair); ok {
		last.Source = "synthetic"
		last.ObservedAt = time.Now()
		return last, nil
	}
	return domain.MarketQuote{}, errors.Wrap(domain.ErrQuoteUnavailable, pair)
}

func (c *Client) fetch(ctx context.Context, rc *resty.Client, assetIn, assetOut string) (domain.MarketQuote, error) {
	var out quoteResponse
	resp, err := rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"base": assetIn, "quote": assetOut}).
		SetResult(&out).
		Get("/price")
	if err != nil {
		return domain.MarketQuote{}, err
	}
	if resp.IsError() {
		return domain.MarketQuote{}, errors.Errorf("price source http %d", resp.StatusCode())
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return domain.MarketQuote{}, errors.Wrap(err, "parse price")
	}
	return domain.MarketQuote{
		AssetIn:    assetIn,
		AssetOut:   assetOut,
		Price:      price,
		Source:     out.Source,
		ObservedAt: time.Unix(out.Timestamp, 0),
	}, nil
}

// fundingResponse is the wire shape of the funding endpoint.
type fundingResponse struct {
	RatePct string `json:"rate_pct"` // percent per hour
}

// FundingRate returns the asset's current funding rate in percent per hour.
// Only the primary source serves funding; there is no synthetic fallback
// because a stale rate would defeat the funding gate.
func (c *Client) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out fundingResponse
	resp, err := c.primary.R().
		SetContext(ctx).
		SetQueryParam("asset", asset).
		SetResult(&out).
		Get("/funding")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, errors.Errorf("funding source http %d", resp.StatusCode())
	}
	return decimal.NewFromString(out.RatePct)
}

func (c *Client) remember(pair string, q domain.MarketQuote) {
	c.mu.Lock()
	c.last[pair] = q
	c.mu.Unlock()
}

func (c *Client) lastQuote(pair string) (domain.MarketQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.last[pair]
	return q, ok
}
