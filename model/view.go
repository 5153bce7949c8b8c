package model

import "math/big"

// OrderAction は注文に対して画面上で提示する操作
type OrderAction string

const (
	ActionNone    OrderAction = ""
	ActionConfirm OrderAction = "confirm"
	ActionRefund  OrderAction = "refund"
)

const (
	EmptyProductsMessage = "No products available yet."
	EmptyOrdersMessage   = "No orders found."
	RefundWaitMessage    = "Refund available after timeout"
)

// ProductView は商品一枚分の描画指示
type ProductView struct {
	ID          uint64   `json:"id"`
	Name        string   `json:"name"`
	Price       *big.Int `json:"price_wei"`
	Quantity    uint64   `json:"quantity"`
	Purchasable bool     `json:"purchasable"`
	// 数量セレクタの範囲。Purchasable が false のときは 0
	MinQuantity uint64 `json:"min_quantity"`
	MaxQuantity uint64 `json:"max_quantity"`
}

// OrderView は注文一件分の描画指示
type OrderView struct {
	ID          uint64      `json:"id"`
	ProductID   uint64      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Buyer       string      `json:"buyer"`
	Amount      *big.Int    `json:"amount_wei"`
	Quantity    uint64      `json:"quantity"`
	PurchasedAt uint64      `json:"purchased_at"`
	Status      OrderStatus `json:"status"`
	Badge       string      `json:"badge"`
	Action      OrderAction `json:"action,omitempty"`
	Notice      string      `json:"notice,omitempty"`
}

// MarketView は商品一覧と注文一覧をまとめた画面状態
type MarketView struct {
	Caller        Caller        `json:"caller"`
	Products      []ProductView `json:"products"`
	Orders        []OrderView   `json:"orders"`
	ProductsEmpty string        `json:"products_empty,omitempty"`
	OrdersEmpty   string        `json:"orders_empty,omitempty"`
}
