package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// PriceLevel is one resting level of an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is the CLOB book for one outcome token.
type OrderBook struct {
	Market  string       `json:"market"`
	AssetID string       `json:"asset_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
}

// FetchOrderBook retrieves the order book for one token, retrying retryable failures.
func (c *Client) FetchOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/book?token_id=%s", c.clobURL, url.QueryEscape(tokenID))
	body, err := c.doRequest(ctx, u, c.maxRetries+1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book: %w", err)
	}

	var book OrderBook
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("failed to decode order book: %w", err)
	}
	return &book, nil
}
