package common

import "context"

// Gateway abstracts the order entry side of a trading venue.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
