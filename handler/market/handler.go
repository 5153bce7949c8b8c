package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	"escrow-market-onchain/model"
	market "escrow-market-onchain/usecase/market"
)

type MarketHandler struct {
	marketUC market.MarketUsecase
	logger   *slog.Logger
}

func NewMarketHandler(uc market.MarketUsecase) *MarketHandler {
	return &MarketHandler{
		marketUC: uc,
		logger:   slog.Default().With("component", "http"),
	}
}

// Register は JSON API を /api/v1 以下に登録する
func (h *MarketHandler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/session/connect", h.HandleConnect).Methods("POST")
	api.HandleFunc("/session/account", h.HandleSwitchAccount).Methods("POST")
	api.HandleFunc("/session", h.HandleDisconnect).Methods("DELETE")
	api.HandleFunc("/session", h.HandleSession).Methods("GET")

	api.HandleFunc("/products", h.HandleListProducts).Methods("GET")
	api.HandleFunc("/products", h.HandleRegisterProduct).Methods("POST")
	api.HandleFunc("/products/{id}/buy", h.HandleBuyProduct).Methods("POST")

	api.HandleFunc("/orders", h.HandleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}/confirm", h.HandleConfirmOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/refund", h.HandleRefundOrder).Methods("POST")

	api.HandleFunc("/view", h.HandleView).Methods("GET")
	api.HandleFunc("/tx/{hash}", h.HandleVerifyTransaction).Methods("GET")
}

// ===============================================
// レスポンス
// ===============================================

type callerResponse struct {
	Address string `json:"address"`
	IsOwner bool   `json:"is_owner"`
}

type productResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	PriceWei    string `json:"price_wei"`
	PriceEth    string `json:"price_eth"`
	Quantity    uint64 `json:"quantity"`
	Purchasable bool   `json:"purchasable"`
	MinQuantity uint64 `json:"min_quantity"`
	MaxQuantity uint64 `json:"max_quantity"`
}

type orderResponse struct {
	ID          uint64 `json:"id"`
	ProductID   uint64 `json:"product_id"`
	ProductName string `json:"product_name"`
	Buyer       string `json:"buyer"`
	AmountWei   string `json:"amount_wei"`
	AmountEth   string `json:"amount_eth"`
	Quantity    uint64 `json:"quantity"`
	PurchasedAt uint64 `json:"purchased_at"`
	Status      string `json:"status"`
	Action      string `json:"action,omitempty"`
	Notice      string `json:"notice,omitempty"`
}

type viewResponse struct {
	Caller        callerResponse    `json:"caller"`
	Products      []productResponse `json:"products"`
	Orders        []orderResponse   `json:"orders"`
	ProductsEmpty string            `json:"products_empty,omitempty"`
	OrdersEmpty   string            `json:"orders_empty,omitempty"`
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toProductResponses(views []model.ProductView) []productResponse {
	out := make([]productResponse, 0, len(views))
	for _, p := range views {
		out = append(out, productResponse{
			ID:          p.ID,
			Name:        p.Name,
			PriceWei:    weiString(p.Price),
			PriceEth:    FormatEther(p.Price),
			Quantity:    p.Quantity,
			Purchasable: p.Purchasable,
			MinQuantity: p.MinQuantity,
			MaxQuantity: p.MaxQuantity,
		})
	}
	return out
}

func toOrderResponses(views []model.OrderView) []orderResponse {
	out := make([]orderResponse, 0, len(views))
	for _, o := range views {
		out = append(out, orderResponse{
			ID:          o.ID,
			ProductID:   o.ProductID,
			ProductName: o.ProductName,
			Buyer:       o.Buyer,
			AmountWei:   weiString(o.Amount),
			AmountEth:   FormatEther(o.Amount),
			Quantity:    o.Quantity,
			PurchasedAt: o.PurchasedAt,
			Status:      o.Badge,
			Action:      string(o.Action),
			Notice:      o.Notice,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor はユースケースのエラーを HTTP ステータスに変換する
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidInput), errors.Is(err, market.ErrAmountOverflow):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, market.ErrNoProvider):
		return http.StatusServiceUnavailable
	default:
		// ウォレット・ノード・トランザクションの失敗
		return http.StatusBadGateway
	}
}

func (h *MarketHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", market.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func pathID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("invalid id %q", raw)
	}
	return id, nil
}

// ===============================================
// セッション
// ===============================================

// HandleConnect はウォレットに接続する
func (h *MarketHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	caller, err := h.marketUC.Connect(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callerResponse{Address: caller.Address, IsOwner: caller.IsOwner})
}

// SwitchAccountRequest はアカウント切り替えの入力
type SwitchAccountRequest struct {
	Address string `json:"address"`
}

func (h *MarketHandler) HandleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req SwitchAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, invalid("invalid request body"))
		return
	}
	caller, err := h.marketUC.SwitchAccount(r.Context(), req.Address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callerResponse{Address: caller.Address, IsOwner: caller.IsOwner})
}

func (h *MarketHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.marketUC.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (h *MarketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.marketUC.Session()
	if !ok {
		h.writeError(w, r, market.ErrNotConnected)
		return
	}
	writeJSON(w, http.StatusOK, callerResponse{Address: caller.Address, IsOwner: caller.IsOwner})
}

// ===============================================
// 商品
// ===============================================

func (h *MarketHandler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	view, err := h.marketUC.LoadProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products":       toProductResponses(view.Products),
		"products_empty": view.ProductsEmpty,
	})
}

// RegisterProductRequest は商品登録の入力。価格は ETH 表記
type RegisterProductRequest struct {
	Name     string  `json:"name"`
	PriceEth string  `json:"price_eth"`
	Quantity *uint64 `json:"quantity"`
}

func (h *MarketHandler) HandleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req RegisterProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, invalid("invalid request body"))
		return
	}

	p := market.NewProduct{Name: req.Name, Quantity: req.Quantity}
	if req.PriceEth != "" {
		price, err := ParseEther(req.PriceEth)
		if err != nil {
			h.writeError(w, r, invalid("%v", err))
			return
		}
		p.Price = price
	}

	receipt, err := h.marketUC.RegisterProduct(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// BuyProductRequest は購入の入力。quantity 省略時は 1、price_eth 省略時は表示中の価格
type BuyProductRequest struct {
	Quantity *int64 `json:"quantity"`
	PriceEth string `json:"price_eth"`
}

func (h *MarketHandler) HandleBuyProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req BuyProductRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, invalid("invalid request body"))
			return
		}
	}

	quantity := int64(1)
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	var price *big.Int
	if req.PriceEth != "" {
		if price, err = ParseEther(req.PriceEth); err != nil {
			h.writeError(w, r, invalid("%v", err))
			return
		}
	}

	receipt, err := h.marketUC.BuyProduct(r.Context(), id, price, quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ===============================================
// 注文
// ===============================================

func (h *MarketHandler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	view, err := h.marketUC.LoadView(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":       toOrderResponses(view.Orders),
		"orders_empty": view.OrdersEmpty,
	})
}

func (h *MarketHandler) HandleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.marketUC.ConfirmOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *MarketHandler) HandleRefundOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.marketUC.RefundOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleView は商品と注文の描画指示をまとめて返す
func (h *MarketHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	view, err := h.marketUC.LoadView(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		Caller:        callerResponse{Address: view.Caller.Address, IsOwner: view.Caller.IsOwner},
		Products:      toProductResponses(view.Products),
		Orders:        toOrderResponses(view.Orders),
		ProductsEmpty: view.ProductsEmpty,
		OrdersEmpty:   view.OrdersEmpty,
	})
}

// HandleVerifyTransaction はトランザクションを検証
func (h *MarketHandler) HandleVerifyTransaction(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if b, err := hexutil.Decode(hash); err != nil || len(b) != common.HashLength {
		h.writeError(w, r, invalid("invalid transaction hash %q", hash))
		return
	}
	receipt, err := h.marketUC.VerifyTransaction(r.Context(), hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
