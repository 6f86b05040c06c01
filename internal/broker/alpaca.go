package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/util"
)

// Compile-time interface checks.
var _ Gateway = (*AlpacaGateway)(nil)
var _ MarketData = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway and MarketData on the Alpaca brokerage
// API. All calls go through a shared rate limiter to stay inside Alpaca's
// 200 requests/minute budget.
type AlpacaGateway struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *util.RateLimiter

	// nativeStops enables server-side OCO exit brackets. Off by default:
	// the exit engine enforces stops itself from account snapshots.
	nativeStops bool
}

// NewAlpacaGateway creates a gateway for the given credentials and API
// endpoints. Pass the paper endpoint for paper trading.
func NewAlpacaGateway(apiKey, apiSecret, baseURL, dataURL string, nativeStops bool) *AlpacaGateway {
	return &AlpacaGateway{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   dataURL,
		}),
		limiter:     util.NewRateLimiter(200),
		nativeStops: nativeStops,
	}
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string {
	return "alpaca"
}

// NativeStops reports whether server-side OCO brackets are enabled.
func (g *AlpacaGateway) NativeStops() bool {
	return g.nativeStops
}

// Connect probes the account to verify credentials and that the account is
// allowed to trade.
func (g *AlpacaGateway) Connect(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	acct, err := g.trading.GetAccount()
	if err != nil {
		return fmt.Errorf("connecting to alpaca: %w", err)
	}
	if acct.TradingBlocked {
		return fmt.Errorf("alpaca account %s is blocked from trading", acct.AccountNumber)
	}
	return nil
}

// PlaceOrder submits an order and returns the broker-assigned order ID.
func (g *AlpacaGateway) PlaceOrder(ctx context.Context, order domain.Order) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	symbol, side, qtyInt := order.Contract()
	qty := decimal.NewFromInt(qtyInt)
	req := alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        alpacaSide(side),
		TimeInForce: alpaca.Day,
	}

	switch o := order.(type) {
	case domain.MarketOrder:
		req.Type = alpaca.Market
		if o.Immediate {
			req.TimeInForce = alpaca.IOC
		}
	case domain.LimitOrder:
		req.Type = alpaca.Limit
		price := decimal.NewFromFloat(o.Price).Round(2)
		req.LimitPrice = &price
		req.ClientOrderID = clientOrderID(o.CancelGroup, "tp")
	case domain.StopOrder:
		req.Type = alpaca.Stop
		trigger := decimal.NewFromFloat(o.Trigger).Round(2)
		req.StopPrice = &trigger
		req.ClientOrderID = clientOrderID(o.CancelGroup, "stop")
	default:
		return "", fmt.Errorf("unsupported order variant %T", order)
	}

	placed, err := g.trading.PlaceOrder(req)
	if err != nil {
		return "", classifyOrderError(symbol, err)
	}
	return placed.ID, nil
}

// PlaceExitBracket places a sell limit at takeProfit with a linked stop at
// stopLoss using Alpaca's OCO order class: a fill on either leg cancels the
// other server-side.
func (g *AlpacaGateway) PlaceExitBracket(ctx context.Context, symbol string, qty int64, takeProfit, stopLoss float64, group string) (string, string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	dqty := decimal.NewFromInt(qty)
	tp := decimal.NewFromFloat(takeProfit).Round(2)
	stop := decimal.NewFromFloat(stopLoss).Round(2)
	placed, err := g.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &dqty,
		Side:          alpaca.Sell,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		LimitPrice:    &tp,
		OrderClass:    alpaca.OCO,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &tp},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stop},
		ClientOrderID: clientOrderID(group, "oco"),
	})
	if err != nil {
		return "", "", classifyOrderError(symbol, err)
	}

	stopID := ""
	for _, leg := range placed.Legs {
		if leg.Type == alpaca.Stop {
			stopID = leg.ID
		}
	}
	return placed.ID, stopID, nil
}

// CancelOrder requests cancellation. A 404 or an already-terminal order is
// treated as success.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err := g.trading.CancelOrder(orderID)
	if err == nil || isNotFound(err) || isUncancelable(err) {
		return nil
	}
	return fmt.Errorf("cancelling order %s: %w", orderID, err)
}

// OrderStatus polls the current state of an order.
func (g *AlpacaGateway) OrderStatus(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	order, err := g.trading.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", orderID, err)
	}

	status := &domain.OrderStatus{
		ID:        order.ID,
		Symbol:    order.Symbol,
		State:     domain.OrderState(order.Status),
		FilledQty: order.FilledQty.IntPart(),
	}
	if order.FilledAvgPrice != nil {
		status.AvgFillPrice, _ = order.FilledAvgPrice.Float64()
	}
	return status, nil
}

// AccountPositions returns every holding in the account.
func (g *AlpacaGateway) AccountPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	positions, err := g.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("listing account positions: %w", err)
	}

	out := make([]domain.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		avg, _ := p.AvgEntryPrice.Float64()
		out = append(out, domain.BrokerPosition{
			Symbol:  p.Symbol,
			Qty:     p.Qty.IntPart(),
			AvgCost: avg,
		})
	}
	return out, nil
}

// AccountSnapshot returns the account view of one symbol, or nil when the
// account holds no shares of it.
func (g *AlpacaGateway) AccountSnapshot(ctx context.Context, symbol string) (*domain.AccountSnapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	pos, err := g.trading.GetPosition(symbol)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting position %s: %w", symbol, err)
	}

	snap := &domain.AccountSnapshot{
		Symbol: pos.Symbol,
		Qty:    pos.Qty.IntPart(),
	}
	snap.CostBasis, _ = pos.CostBasis.Float64()
	if pos.MarketValue != nil {
		snap.MarketValue, _ = pos.MarketValue.Float64()
	}
	if pos.UnrealizedPL != nil {
		snap.UnrealizedPL, _ = pos.UnrealizedPL.Float64()
	}
	return snap, nil
}

// LatestPrice returns the most recent trade price for the symbol.
func (g *AlpacaGateway) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	trade, err := g.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, fmt.Errorf("getting latest trade for %s: %w", symbol, err)
	}
	return trade.Price, nil
}

// IntradayBars returns one-minute bars from start to now.
func (g *AlpacaGateway) IntradayBars(ctx context.Context, symbol string, start time.Time) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bars, err := g.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     start,
	})
	if err != nil {
		return nil, fmt.Errorf("getting bars for %s: %w", symbol, err)
	}

	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Bar{
			Symbol:     symbol,
			Timestamp:  b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func alpacaSide(side domain.Side) alpaca.Side {
	if side == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

// clientOrderID derives a deterministic client order id from the cancel
// group so a crashed process can recognize its own resting orders.
func clientOrderID(group, leg string) string {
	if group == "" {
		return ""
	}
	return group + "-" + leg
}

// classifyOrderError maps Alpaca rejections onto domain error kinds so
// callers pick the right recovery path without parsing broker messages.
func classifyOrderError(symbol string, err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return domain.NewOrderError(domain.ErrTransient, symbol, "gateway error", err)
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "not shortable") ||
		strings.Contains(msg, "easy to borrow") ||
		strings.Contains(msg, "asset is not active") ||
		strings.Contains(msg, "cannot be sold short"):
		return domain.NewOrderError(domain.ErrRejectedTerminal, symbol, "short-sale restriction", err)
	case strings.Contains(msg, "insufficient"):
		return domain.NewOrderError(domain.ErrRejectedRetryable, symbol, "insufficient buying power", err)
	case strings.Contains(msg, "wash trade"):
		return domain.NewOrderError(domain.ErrRejectedRetryable, symbol, "wash trade detected", err)
	case apiErr.StatusCode >= 500:
		return domain.NewOrderError(domain.ErrTransient, symbol, "broker unavailable", err)
	default:
		return domain.NewOrderError(domain.ErrRejectedRetryable, symbol, apiErr.Message, err)
	}
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func isUncancelable(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 422
}
