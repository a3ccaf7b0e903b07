package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/errs"
)

const maxFeedResponseBytes = 1 << 20

// RESTProvider talks to a price feed gateway over HTTP with rate limiting
// and exponential backoff on transient failures.
type RESTProvider struct {
	endpoint   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

var _ Provider = (*RESTProvider)(nil)

// NewRESTProvider constructs a provider for the configured feed endpoint.
func NewRESTProvider(cfg config.OracleSettings) (*RESTProvider, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errs.New("oracle", errs.CodeInvalid, errs.WithMessage("feed endpoint required"))
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = 5
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &RESTProvider{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		maxRetries: retries,
	}, nil
}

type quotePayload struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// LastPrice fetches the most recent quote for the asset.
func (p *RESTProvider) LastPrice(ctx context.Context, asset string) (PriceData, error) {
	var payload quotePayload
	if err := p.getJSON(ctx, "/price/"+url.PathEscape(asset), &payload); err != nil {
		return PriceData{}, err
	}
	return PriceData{Price: payload.Price, Timestamp: payload.Timestamp}, nil
}

// CrossLastPrice fetches the most recent base/quote pair quote.
func (p *RESTProvider) CrossLastPrice(ctx context.Context, base, quote string) (PriceData, error) {
	var payload quotePayload
	path := "/price/" + url.PathEscape(base) + "/" + url.PathEscape(quote)
	if err := p.getJSON(ctx, path, &payload); err != nil {
		return PriceData{}, err
	}
	return PriceData{Price: payload.Price, Timestamp: payload.Timestamp}, nil
}

// Base fetches the feed's quote currency.
func (p *RESTProvider) Base(ctx context.Context) (string, error) {
	var payload struct {
		Base string `json:"base"`
	}
	if err := p.getJSON(ctx, "/base", &payload); err != nil {
		return "", err
	}
	return payload.Base, nil
}

// Assets fetches the list of assets the feed quotes.
func (p *RESTProvider) Assets(ctx context.Context) ([]string, error) {
	var payload struct {
		Assets []string `json:"assets"`
	}
	if err := p.getJSON(ctx, "/assets", &payload); err != nil {
		return nil, err
	}
	return payload.Assets, nil
}

// Decimals fetches the feed's fixed-point scale.
func (p *RESTProvider) Decimals(ctx context.Context) (uint32, error) {
	var payload struct {
		Decimals uint32 `json:"decimals"`
	}
	if err := p.getJSON(ctx, "/decimals", &payload); err != nil {
		return 0, err
	}
	return payload.Decimals, nil
}

// LastTimestamp fetches the feed's most recent update time.
func (p *RESTProvider) LastTimestamp(ctx context.Context) (int64, error) {
	var payload struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := p.getJSON(ctx, "/timestamp", &payload); err != nil {
		return 0, err
	}
	return payload.Timestamp, nil
}

func (p *RESTProvider) getJSON(ctx context.Context, path string, out any) error {
	body, err := p.fetch(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New("oracle", errs.CodeOracleUnavailable,
			errs.WithMessage("malformed feed response"),
			errs.WithCause(err),
			errs.WithField("path", path))
	}
	return nil
}

func (p *RESTProvider) fetch(ctx context.Context, path string) ([]byte, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	attempts := 0
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("feed rate limit wait: %w", err)
		}
		body, retryable, err := p.fetchOnce(ctx, path)
		if err == nil {
			return body, nil
		}
		attempts++
		if !retryable || attempts > p.maxRetries {
			return nil, err
		}
		sleep := backoffCfg.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("feed fetch context: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (p *RESTProvider) fetchOnce(ctx context.Context, path string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, errs.New("oracle", errs.CodeOracleUnavailable,
			errs.WithMessage("feed request failed"),
			errs.WithCause(err),
			errs.WithField("path", path))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= http.StatusInternalServerError
		return nil, retryable, errs.New("oracle", errs.CodeOracleUnavailable,
			errs.WithMessage("feed returned non-200 status"),
			errs.WithField("path", path),
			errs.WithField("status", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseBytes))
	if err != nil {
		return nil, true, errs.New("oracle", errs.CodeOracleUnavailable,
			errs.WithMessage("read feed response"),
			errs.WithCause(err),
			errs.WithField("path", path))
	}
	return body, false, nil
}
