// Package pricefeed fetches a symbol's current price from a single HTTP ticker endpoint.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rewired-gh/roundoracle/internal/models"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// ErrEmptySymbol is returned before any request is made.
var ErrEmptySymbol = errors.New("symbol must not be empty")

// FetchError is returned for every failed fetch. It keeps the HTTP status
// (zero for transport failures) and the response body for logging.
type FetchError struct {
	Symbol     string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch price for %s: status %d: %v", e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch price for %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client queries the ticker endpoint. It performs exactly one request per
// FetchPrice call; callers own the retry policy.
type Client struct {
	apiURL     string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new price feed client. A zero timeout leaves the
// transport default in place.
func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// NewClientWithHTTP uses the given http.Client as-is.
func NewClientWithHTTP(apiURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{apiURL: apiURL, httpClient: httpClient, now: time.Now}
}

// FetchPrice performs GET <apiURL>?symbol=<symbol> and decodes {symbol, price}.
// The price may be a JSON string or number; it must parse as a decimal.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Err: fmt.Errorf("failed to parse URL: %w", err)}
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{Symbol: symbol, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(body))
		return nil, &FetchError{
			Symbol:     symbol,
			StatusCode: resp.StatusCode,
			Body:       text,
			Err:        fmt.Errorf("unexpected status: %s", text),
		}
	}

	quote, err := decodeQuote(body, symbol)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}
	quote.FetchedAt = c.now()
	return quote, nil
}

func decodeQuote(body []byte, symbol string) (*models.PriceQuote, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed response body")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.New("response body is not an object")
	}

	var price string
	switch p := doc.Get("price"); p.Type {
	case gjson.String:
		price = strings.TrimSpace(p.Str)
	case gjson.Number:
		price = p.Raw
	default:
		return nil, errors.New("response has no price")
	}

	quote := &models.PriceQuote{
		Symbol: doc.Get("symbol").String(),
		Price:  price,
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}
	if err := quote.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quote: %w", err)
	}
	return quote, nil
}
