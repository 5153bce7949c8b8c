package model

import (
	"math/big"
)

// OrderStatus はコントラクト上の注文状態 (uint8) を表す
type OrderStatus uint8

const (
	StatusPending   OrderStatus = 0 // 確認待ち
	StatusCompleted OrderStatus = 1 // 出品者が確認済み (代金は出品者へ)
	StatusRefunded  OrderStatus = 2 // タイムアウトにより購入者へ返金済み
)

// String は表示用の状態名を返す
func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCompleted:
		return "Completed"
	case StatusRefunded:
		return "Refunded"
	default:
		return "Unknown"
	}
}

// ===============================================
// コントラクトから読み出すレコード
// ===============================================

// Product はコントラクトに登録された商品
type Product struct {
	ID       uint64   `json:"id"`
	Name     string   `json:"name"`
	Price    *big.Int `json:"price_wei"` // 単価 (Wei)
	Quantity uint64   `json:"quantity"`  // 残り在庫
}

// Order はコントラクトに記録された注文
type Order struct {
	ID          uint64      `json:"id"` // コントラクトの注文ID (リスト上の位置ではない)
	ProductID   uint64      `json:"product_id"`
	Buyer       string      `json:"buyer"`
	Amount      *big.Int    `json:"amount_wei"` // 支払い総額 (Wei)
	Quantity    uint64      `json:"quantity"`
	PurchasedAt uint64      `json:"purchased_at"` // 購入時刻 (UNIX秒, コントラクトが付与)
	Status      OrderStatus `json:"status"`
}

// Caller は接続中のアカウントとそのロール
type Caller struct {
	Address string `json:"address"`
	IsOwner bool   `json:"is_owner"`
}

// TxReceipt はトランザクションの取り込み結果
type TxReceipt struct {
	TxHash         string `json:"tx_hash"`
	Status         string `json:"status"` // "pending", "success", "failed"
	BlockNumber    uint64 `json:"block_number,omitempty"`
	GasUsed        uint64 `json:"gas_used,omitempty"`
	Success        bool   `json:"success"`
	IsContractCall bool   `json:"is_contract_call"`
}

// ChangeNotice はマーケットプレイスのコントラクトで発生したログの通知
type ChangeNotice struct {
	TxHash  string `json:"tx_hash"`
	BlockNo uint64 `json:"block_number"`
}
