package handler

import (
	"errors"
	"html/template"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"escrow-market-onchain/model"
	"escrow-market-onchain/observability/logging"
	market "escrow-market-onchain/usecase/market"
)

const (
	noticeNoProvider   = "Please configure a wallet to use this app."
	noticeNotOwner     = "Access Denied: Only the owner can register products."
	noticeMissingField = "Please fill in all fields."
	noticeRegistered   = "Product registered successfully!"
	noticeBadQuantity  = "Quantity must be at least 1"
	noticePurchased    = "Purchase successful!"
	noticeConfirmed    = "Order confirmed. Funds released to seller."
	noticeRefunded     = "Refund successful! Money returned to buyer."
	noticeRefundFailed = "Refund Failed: The timeout period may not have passed yet, or you are not authorized."
)

// PageHandler はフォーム送信で操作する HTML 画面
type PageHandler struct {
	marketUC market.MarketUsecase
	contract string
	tmpl     *template.Template
}

func NewPageHandler(uc market.MarketUsecase, contractAddress string) *PageHandler {
	return &PageHandler{
		marketUC: uc,
		contract: contractAddress,
		tmpl:     template.Must(template.New("app").Funcs(template.FuncMap{"lower": strings.ToLower}).Parse(pageTemplate)),
	}
}

// Register は /app 以下を登録する
func (h *PageHandler) Register(router *mux.Router) {
	router.HandleFunc("/app", h.HandlePage).Methods("GET")
	router.HandleFunc("/app/connect", h.HandleConnect).Methods("POST")
	router.HandleFunc("/app/account", h.HandleSwitchAccount).Methods("POST")
	router.HandleFunc("/app/products", h.HandleRegisterProduct).Methods("POST")
	router.HandleFunc("/app/products/{id}/buy", h.HandleBuyProduct).Methods("POST")
	router.HandleFunc("/app/orders/{id}/confirm", h.HandleConfirmOrder).Methods("POST")
	router.HandleFunc("/app/orders/{id}/refund", h.HandleRefundOrder).Methods("POST")
}

type pageProduct struct {
	ID          uint64
	Name        string
	PriceEth    string
	Quantity    uint64
	Purchasable bool
	Min, Max    uint64
}

type pageOrder struct {
	ID          uint64
	ProductName string
	AmountEth   string
	Quantity    uint64
	Buyer       string
	PurchasedAt string
	Badge       string
	CanConfirm  bool
	CanRefund   bool
	Notice      string
}

type pageData struct {
	Contract      string
	Connected     bool
	Wallet        string
	IsOwner       bool
	Notice        string
	Error         string
	Products      []pageProduct
	Orders        []pageOrder
	ProductsEmpty string
	OrdersEmpty   string
}

func toPageData(view *model.MarketView) pageData {
	data := pageData{
		Connected:     true,
		Wallet:        logging.ShortAddress(view.Caller.Address),
		IsOwner:       view.Caller.IsOwner,
		ProductsEmpty: view.ProductsEmpty,
		OrdersEmpty:   view.OrdersEmpty,
	}
	for _, p := range view.Products {
		data.Products = append(data.Products, pageProduct{
			ID:          p.ID,
			Name:        p.Name,
			PriceEth:    FormatEther(p.Price),
			Quantity:    p.Quantity,
			Purchasable: p.Purchasable,
			Min:         p.MinQuantity,
			Max:         p.MaxQuantity,
		})
	}
	for _, o := range view.Orders {
		data.Orders = append(data.Orders, pageOrder{
			ID:          o.ID,
			ProductName: o.ProductName,
			AmountEth:   FormatEther(o.Amount),
			Quantity:    o.Quantity,
			Buyer:       logging.ShortAddress(o.Buyer),
			PurchasedAt: time.Unix(int64(o.PurchasedAt), 0).UTC().Format("2006-01-02 15:04:05 UTC"),
			Badge:       o.Badge,
			CanConfirm:  o.Action == model.ActionConfirm,
			CanRefund:   o.Action == model.ActionRefund,
			Notice:      o.Notice,
		})
	}
	return data
}

// HandlePage は現在のセッションの画面を描画する
func (h *PageHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	data := pageData{}
	if _, ok := h.marketUC.Session(); ok {
		view, err := h.marketUC.LoadView(r.Context())
		if err != nil {
			data.Connected = true
			data.Error = "Error: " + err.Error()
		} else {
			data = toPageData(view)
		}
	}
	data.Contract = h.contract
	data.Notice = r.URL.Query().Get("notice")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func redirectWithNotice(w http.ResponseWriter, r *http.Request, notice string) {
	target := "/app"
	if notice != "" {
		target += "?notice=" + url.QueryEscape(notice)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *PageHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if _, err := h.marketUC.Connect(r.Context()); err != nil {
		if errors.Is(err, market.ErrNoProvider) {
			redirectWithNotice(w, r, noticeNoProvider)
			return
		}
		redirectWithNotice(w, r, "Connection Failed: "+err.Error())
		return
	}
	redirectWithNotice(w, r, "")
}

func (h *PageHandler) HandleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	if _, err := h.marketUC.SwitchAccount(r.Context(), r.FormValue("address")); err != nil {
		redirectWithNotice(w, r, "Connection Failed: "+err.Error())
		return
	}
	redirectWithNotice(w, r, "")
}

func (h *PageHandler) HandleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	p := market.NewProduct{Name: r.FormValue("name")}

	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := ParseEther(raw)
		if err != nil {
			redirectWithNotice(w, r, "Error: "+err.Error())
			return
		}
		p.Price = price
	}
	if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
		qty, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			redirectWithNotice(w, r, "Error: invalid quantity "+strconv.Quote(raw))
			return
		}
		p.Quantity = &qty
	}

	_, err := h.marketUC.RegisterProduct(r.Context(), p)
	switch {
	case err == nil:
		redirectWithNotice(w, r, noticeRegistered)
	case errors.Is(err, market.ErrNotOwner):
		redirectWithNotice(w, r, noticeNotOwner)
	case errors.Is(err, market.ErrInvalidInput):
		redirectWithNotice(w, r, noticeMissingField)
	default:
		redirectWithNotice(w, r, "Error: "+err.Error())
	}
}

func (h *PageHandler) HandleBuyProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		redirectWithNotice(w, r, "Error: "+err.Error())
		return
	}

	quantity := int64(1)
	if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
		q, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || q < 1 {
			redirectWithNotice(w, r, noticeBadQuantity)
			return
		}
		quantity = q
	}

	// 表示中の価格で支払う
	var price *big.Int
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		if price, err = ParseEther(raw); err != nil {
			redirectWithNotice(w, r, "Transaction failed: "+err.Error())
			return
		}
	}

	if _, err := h.marketUC.BuyProduct(r.Context(), id, price, quantity); err != nil {
		redirectWithNotice(w, r, "Transaction failed: "+err.Error())
		return
	}
	redirectWithNotice(w, r, noticePurchased)
}

func (h *PageHandler) HandleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		redirectWithNotice(w, r, "Error: "+err.Error())
		return
	}
	if _, err := h.marketUC.ConfirmOrder(r.Context(), id); err != nil {
		redirectWithNotice(w, r, "Error: "+err.Error())
		return
	}
	redirectWithNotice(w, r, noticeConfirmed)
}

func (h *PageHandler) HandleRefundOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		redirectWithNotice(w, r, "Error: "+err.Error())
		return
	}
	if _, err := h.marketUC.RefundOrder(r.Context(), id); err != nil {
		if errors.Is(err, market.ErrRefundRejected) {
			redirectWithNotice(w, r, noticeRefundFailed)
			return
		}
		redirectWithNotice(w, r, "Error: "+err.Error())
		return
	}
	redirectWithNotice(w, r, noticeRefunded)
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Escrow Marketplace</title>
<style>
body { font-family: sans-serif; background: #0f172a; color: #e2e8f0; max-width: 960px; margin: 0 auto; padding: 24px; }
.card { background: #1e293b; border-radius: 8px; padding: 16px; margin-bottom: 16px; }
.list-item { display: flex; justify-content: space-between; align-items: center; padding: 12px 0; border-bottom: 1px solid #334155; }
.text-muted { color: #94a3b8; }
.notice { background: #334155; padding: 12px; border-radius: 6px; margin-bottom: 16px; }
.badge { padding: 2px 8px; border-radius: 4px; font-size: 12px; }
.badge-pending { background: #f59e0b; }
.badge-completed { background: #10b981; }
.badge-refunded { background: #ef4444; }
.badge-unknown { background: #64748b; }
.qty-input { width: 60px; margin-right: 8px; }
</style>
</head>
<body>
<h1>Escrow Marketplace</h1>
<p class="text-muted">Contract: {{.Contract}}</p>
{{if .Notice}}<div class="notice" id="notice">{{.Notice}}</div>{{end}}
{{if .Error}}<div class="notice" id="error">{{.Error}}</div>{{end}}

<div class="card">
{{if .Connected}}
  <button disabled>Wallet Connected</button>
  <span id="walletAddr">{{.Wallet}}</span>
  {{if .IsOwner}}<span class="badge badge-completed">Owner</span>{{else}}<span class="badge badge-unknown">Buyer</span>{{end}}
  <form method="post" action="/app/account" style="display:inline">
    <input type="text" name="address" placeholder="0x...">
    <button type="submit">Switch Account</button>
  </form>
{{else}}
  <form method="post" action="/app/connect"><button type="submit" id="connectBtn">Connect Wallet</button></form>
{{end}}
</div>

{{if .Connected}}
{{if .IsOwner}}
<div class="card" id="ownerSection">
  <h2>Register Product</h2>
  <form method="post" action="/app/products">
    <input type="text" name="name" placeholder="Product name">
    <input type="text" name="price" placeholder="Price (ETH)">
    <input type="number" name="quantity" min="1" placeholder="Quantity">
    <button type="submit">Register</button>
  </form>
</div>
{{end}}

<div class="card">
  <h2>Products</h2>
  <div id="productsList">
  {{if .ProductsEmpty}}<p class="text-muted">{{.ProductsEmpty}}</p>{{end}}
  {{range .Products}}
    <div class="list-item">
      <div>
        <strong>{{.Name}}</strong><br>
        <small>Price: {{.PriceEth}} ETH | Stock: {{.Quantity}}</small>
      </div>
      {{if .Purchasable}}
      <form method="post" action="/app/products/{{.ID}}/buy">
        <input type="number" name="quantity" class="qty-input" min="{{.Min}}" max="{{.Max}}" value="1">
        <input type="hidden" name="price" value="{{.PriceEth}}">
        <button type="submit">Buy</button>
      </form>
      {{else}}
      <button disabled>Out of Stock</button>
      {{end}}
    </div>
  {{end}}
  </div>
</div>

<div class="card">
  <h2>{{if .IsOwner}}All Orders{{else}}My Orders{{end}}</h2>
  <div id="ordersList">
  {{if .OrdersEmpty}}<p class="text-muted">{{.OrdersEmpty}}</p>{{end}}
  {{range .Orders}}
    <div class="list-item">
      <div>
        <strong>Order #{{.ID}} - {{.ProductName}}</strong><br>
        <small>Total: {{.AmountEth}} ETH | Qty: {{.Quantity}}<br>Buyer: {{.Buyer}} | {{.PurchasedAt}}</small>
      </div>
      <div style="text-align:right">
        <span class="badge badge-{{.Badge | lower}}">{{.Badge}}</span><br>
        {{if .CanConfirm}}<form method="post" action="/app/orders/{{.ID}}/confirm"><button type="submit">Confirm Order</button></form>{{end}}
        {{if .CanRefund}}<form method="post" action="/app/orders/{{.ID}}/refund"><button type="submit">Request Refund</button></form>{{end}}
        {{if .Notice}}<small class="text-muted">{{.Notice}}</small>{{end}}
      </div>
    </div>
  {{end}}
  </div>
</div>
{{end}}
</body>
</html>
`
