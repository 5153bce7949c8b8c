package market

import (
	"fmt"
	"math"
	"time"

	"escrow-market-onchain/model"
)

// ReconcileInput は描画指示を導出するための入力一式
type ReconcileInput struct {
	Caller   model.Caller
	Products []model.Product
	// Orders はオーナーなら全注文、購入者なら自分の注文 (絞り込みはゲートウェイ側)
	Orders []model.Order
	// Window は CONFIRMATION_WINDOW (秒)
	Window uint64
	Now    time.Time
}

// Reconcile はオンチェーンのデータを画面の描画指示に変換する。
// 入力以外の状態を持たず、同じ入力からは常に同じ結果を返す。
func Reconcile(in ReconcileInput) model.MarketView {
	view := model.MarketView{
		Caller:   in.Caller,
		Products: make([]model.ProductView, 0, len(in.Products)),
		Orders:   make([]model.OrderView, 0, len(in.Orders)),
	}

	byID := make(map[uint64]model.Product, len(in.Products))
	for _, p := range in.Products {
		byID[p.ID] = p
		view.Products = append(view.Products, productView(p))
	}
	if len(view.Products) == 0 {
		view.ProductsEmpty = model.EmptyProductsMessage
	}

	for _, o := range in.Orders {
		view.Orders = append(view.Orders, orderView(o, byID, in))
	}
	if len(view.Orders) == 0 {
		view.OrdersEmpty = model.EmptyOrdersMessage
	}
	return view
}

// ReconcileProducts は商品一覧だけを導出する
func ReconcileProducts(products []model.Product) []model.ProductView {
	views := make([]model.ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, productView(p))
	}
	return views
}

func productView(p model.Product) model.ProductView {
	v := model.ProductView{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: p.Quantity,
	}
	if p.Quantity > 0 {
		v.Purchasable = true
		v.MinQuantity = 1
		v.MaxQuantity = p.Quantity
	}
	return v
}

func orderView(o model.Order, products map[uint64]model.Product, in ReconcileInput) model.OrderView {
	v := model.OrderView{
		ID:          o.ID,
		ProductID:   o.ProductID,
		ProductName: fmt.Sprintf("Unknown Product (ID: %d)", o.ProductID),
		Buyer:       o.Buyer,
		Amount:      o.Amount,
		Quantity:    o.Quantity,
		PurchasedAt: o.PurchasedAt,
		Status:      o.Status,
		Badge:       o.Status.String(),
	}
	if p, ok := products[o.ProductID]; ok {
		v.ProductName = p.Name
	}

	if o.Status != model.StatusPending {
		return v
	}
	switch {
	case in.Caller.IsOwner:
		v.Action = model.ActionConfirm
	case RefundEligible(o.PurchasedAt, in.Window, in.Now):
		v.Action = model.ActionRefund
	default:
		v.Notice = model.RefundWaitMessage
	}
	return v
}

// RefundEligible は now > purchasedAt + window かどうかを返す。
// クライアントの時計で判定するため参考値であり、最終判断はコントラクトが行う。
func RefundEligible(purchasedAt, window uint64, now time.Time) bool {
	deadline := purchasedAt + window
	if deadline < purchasedAt {
		// 加算が溢れた場合は期限に到達しない
		deadline = math.MaxUint64
	}
	unix := now.Unix()
	if unix < 0 {
		return false
	}
	return uint64(unix) > deadline
}
