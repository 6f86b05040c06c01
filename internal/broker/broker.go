// Package broker defines the Gateway and MarketData interfaces and provides
// implementations for executing orders and reading account state across
// different brokerages.
package broker

import (
	"context"
	"time"

	"daytrader/internal/domain"
)

// Gateway abstracts brokerage operations for order execution and account
// state. The account it fronts is the source of truth for share holdings.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "alpaca", "simulator").
	Name() string

	// Connect verifies credentials and broker reachability. Called once at
	// process start before any trading operation.
	Connect(ctx context.Context) error

	// PlaceOrder submits an order and returns the broker-assigned order ID.
	// Failures are classified as domain.OrderError where possible.
	PlaceOrder(ctx context.Context, order domain.Order) (string, error)

	// CancelOrder requests cancellation of an open order. Cancelling an
	// order that already reached a terminal state is not an error.
	CancelOrder(ctx context.Context, orderID string) error

	// OrderStatus polls the current state of an order.
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderStatus, error)

	// AccountPositions returns every holding in the account, including
	// positions this system did not open.
	AccountPositions(ctx context.Context) ([]domain.BrokerPosition, error)

	// AccountSnapshot returns the account view of one symbol, or nil when
	// the account holds no shares of it.
	AccountSnapshot(ctx context.Context, symbol string) (*domain.AccountSnapshot, error)

	// NativeStops reports whether the gateway can hold a server-side stop
	// order linked to a take-profit order, cancelling one when the other
	// fills. When false, callers place only the take-profit order and
	// enforce the stop themselves by polling AccountSnapshot.
	NativeStops() bool

	// PlaceExitBracket places a take-profit limit sell and a linked stop
	// sell in one cancel group. Only valid when NativeStops is true.
	PlaceExitBracket(ctx context.Context, symbol string, qty int64, takeProfit, stopLoss float64, group string) (tpOrderID, stopOrderID string, err error)
}

// MarketData provides the price and bar lookups the entry engine needs.
// Deliberately narrow: no streaming subscriptions.
type MarketData interface {
	// LatestPrice returns the most recent trade price for the symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// IntradayBars returns one-minute bars from start to now.
	IntradayBars(ctx context.Context, symbol string, start time.Time) ([]domain.Bar, error)
}
