package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/example/ride-passenger/internal/models"
)

type TopUpRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
}

type PayRequest struct {
	RideID string  `json:"rideId" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

type TipRequest struct {
	DriverID string  `json:"driverId" validate:"required"`
	RideID   string  `json:"rideId" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
}

// WalletView is the wallet tab: balance plus transactions, newest first.
type WalletView struct {
	Wallet       models.Wallet        `json:"wallet"`
	Transactions []models.Transaction `json:"transactions"`
}

// WalletUpdate is returned by every mutating wallet call.
type WalletUpdate struct {
	Wallet models.Wallet       `json:"wallet"`
	Txn    *models.Transaction `json:"txn,omitempty"`
}

func (c *Client) Wallet(ctx context.Context, token string) (WalletView, error) {
	if err := requireToken("api.wallet", token); err != nil {
		return WalletView{}, err
	}
	var out WalletView
	if err := c.do(ctx, "api.wallet", http.MethodGet, "/wallet/me", token, nil, &out); err != nil {
		return WalletView{}, err
	}
	newestFirst(out.Transactions)
	return out, nil
}

func (c *Client) TopUp(ctx context.Context, token string, req TopUpRequest) (WalletUpdate, error) {
	return c.walletPost(ctx, "api.topup", "/wallet/topup", token, req)
}

func (c *Client) Pay(ctx context.Context, token string, req PayRequest) (WalletUpdate, error) {
	return c.walletPost(ctx, "api.pay", "/wallet/pay", token, req)
}

func (c *Client) Tip(ctx context.Context, token string, req TipRequest) (WalletUpdate, error) {
	return c.walletPost(ctx, "api.tip", "/wallet/tip", token, req)
}

func (c *Client) walletPost(ctx context.Context, op, path, token string, req any) (WalletUpdate, error) {
	if err := Validate(req); err != nil {
		return WalletUpdate{}, err
	}
	if err := requireToken(op, token); err != nil {
		return WalletUpdate{}, err
	}
	var out WalletUpdate
	if err := c.do(ctx, op, http.MethodPost, path, token, req, &out); err != nil {
		return WalletUpdate{}, err
	}
	return out, nil
}

// newestFirst orders by creation time; the backend returns oldest first and
// ties keep the reversed server order.
func newestFirst(txns []models.Transaction) {
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
}
