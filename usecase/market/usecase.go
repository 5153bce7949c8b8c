package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrow-market-onchain/gateway/contract"
	"escrow-market-onchain/gateway/wallet"
	"escrow-market-onchain/model"
	"escrow-market-onchain/observability/logging"
)

const defaultTxTimeout = 3 * time.Minute

// GatewayFactory は署名者に紐づいたゲートウェイを作る
type GatewayFactory func(ctx context.Context, signer wallet.Signer) (contract.MarketplaceGateway, error)

// MarketUsecase はマーケットプレイス画面の操作
type MarketUsecase interface {
	// Connect はウォレットに接続し、ロールを判定して商品を読み込む
	Connect(ctx context.Context) (model.Caller, error)

	// SwitchAccount は操作アカウントを切り替え、ロールを判定し直す
	SwitchAccount(ctx context.Context, account string) (model.Caller, error)

	Disconnect()

	// Session は接続中のアカウントを返す
	Session() (model.Caller, bool)

	RegisterProduct(ctx context.Context, p NewProduct) (*model.TxReceipt, error)
	BuyProduct(ctx context.Context, productID uint64, unitPrice *big.Int, quantity int64) (*model.TxReceipt, error)
	ConfirmOrder(ctx context.Context, orderID uint64) (*model.TxReceipt, error)
	RefundOrder(ctx context.Context, orderID uint64) (*model.TxReceipt, error)

	// LoadProducts は商品一覧だけを読み込む
	LoadProducts(ctx context.Context) (*model.MarketView, error)

	// LoadView は商品と注文を読み込み、描画指示を導出する
	LoadView(ctx context.Context) (*model.MarketView, error)

	VerifyTransaction(ctx context.Context, txHash string) (*model.TxReceipt, error)

	// StartChangeListener はコントラクトのログを購読し、商品キャッシュを更新する
	StartChangeListener(ctx context.Context) error
}

// NewProduct は商品登録フォームの入力。nil は未入力を表す
type NewProduct struct {
	Name     string
	Price    *big.Int
	Quantity *uint64
}

// session は接続ごとの状態。再接続・アカウント切り替えで丸ごと置き換える
type session struct {
	gateway  contract.MarketplaceGateway
	caller   model.Caller
	window   uint64
	products []model.Product
}

type marketUsecase struct {
	provider   wallet.Provider
	newGateway GatewayFactory
	changes    contract.MarketplaceGateway
	preferred  string
	txTimeout  time.Duration
	nowFn      func() time.Time
	logger     *slog.Logger

	mu   sync.RWMutex
	sess *session
}

type Option func(*marketUsecase)

// WithPreferredAccount は Connect で最初に選ぶアカウント
func WithPreferredAccount(addr string) Option {
	return func(uc *marketUsecase) { uc.preferred = strings.TrimSpace(addr) }
}

func WithTxTimeout(d time.Duration) Option {
	return func(uc *marketUsecase) {
		if d > 0 {
			uc.txTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *marketUsecase) {
		if now != nil {
			uc.nowFn = now
		}
	}
}

// WithChangeSource は変更通知の購読に使う読み取り専用ゲートウェイ
func WithChangeSource(gw contract.MarketplaceGateway) Option {
	return func(uc *marketUsecase) { uc.changes = gw }
}

// NewMarketUsecase を作成。provider が nil の場合、Connect は ErrNoProvider を返す
func NewMarketUsecase(provider wallet.Provider, factory GatewayFactory, opts ...Option) *marketUsecase {
	uc := &marketUsecase{
		provider:   provider,
		newGateway: factory,
		txTimeout:  defaultTxTimeout,
		nowFn:      time.Now,
		logger:     slog.Default().With("component", "market"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ===============================================
// 接続
// ===============================================

func (uc *marketUsecase) Connect(ctx context.Context) (model.Caller, error) {
	if uc.provider == nil {
		return model.Caller{}, ErrNoProvider
	}
	accounts, err := uc.provider.RequestAccounts(ctx)
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrWallet, err)
	}
	if len(accounts) == 0 {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrWallet, wallet.ErrNoAccounts)
	}

	account := accounts[0]
	if uc.preferred != "" {
		found := false
		for _, a := range accounts {
			if strings.EqualFold(a.Hex(), uc.preferred) {
				account, found = a, true
				break
			}
		}
		if !found {
			return model.Caller{}, fmt.Errorf("%w: %v: %s", ErrWallet, wallet.ErrUnknownAccount, uc.preferred)
		}
	}
	return uc.establish(ctx, account)
}

func (uc *marketUsecase) SwitchAccount(ctx context.Context, account string) (model.Caller, error) {
	if uc.provider == nil {
		return model.Caller{}, ErrNoProvider
	}
	if !common.IsHexAddress(account) {
		return model.Caller{}, fmt.Errorf("%w: %q is not an address", ErrInvalidInput, account)
	}
	return uc.establish(ctx, common.HexToAddress(account))
}

// establish は新しいセッションを組み立て、全ての読み込みが成功した場合だけ差し替える
func (uc *marketUsecase) establish(ctx context.Context, account common.Address) (model.Caller, error) {
	signer, err := uc.provider.Signer(ctx, account)
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrWallet, err)
	}
	gw, err := uc.newGateway(ctx, signer)
	if err != nil {
		return model.Caller{}, fmt.Errorf("create gateway: %w", err)
	}

	owner, err := gw.Owner(ctx)
	if err != nil {
		return model.Caller{}, err
	}
	window, err := gw.ConfirmationWindow(ctx)
	if err != nil {
		return model.Caller{}, err
	}
	products, err := gw.ListProducts(ctx)
	if err != nil {
		return model.Caller{}, err
	}

	caller := model.Caller{
		Address: signer.Address().Hex(),
		IsOwner: strings.EqualFold(owner.Hex(), signer.Address().Hex()),
	}

	uc.mu.Lock()
	uc.sess = &session{
		gateway:  gw,
		caller:   caller,
		window:   window,
		products: products,
	}
	uc.mu.Unlock()

	uc.logger.Info("wallet connected", "account", logging.ShortAddress(caller.Address), "is_owner", caller.IsOwner, "confirmation_window", window, "products", len(products))
	return caller, nil
}

func (uc *marketUsecase) Disconnect() {
	uc.mu.Lock()
	uc.sess = nil
	uc.mu.Unlock()
}

func (uc *marketUsecase) Session() (model.Caller, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.sess == nil {
		return model.Caller{}, false
	}
	return uc.sess.caller, true
}

// current は最新のセッションのスナップショットを返す
func (uc *marketUsecase) current() (session, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.sess == nil {
		return session{}, ErrNotConnected
	}
	return *uc.sess, nil
}

// ===============================================
// 書き込み操作
// ===============================================

func (uc *marketUsecase) RegisterProduct(ctx context.Context, p NewProduct) (*model.TxReceipt, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	if !s.caller.IsOwner {
		return nil, ErrNotOwner
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || p.Price == nil || p.Quantity == nil {
		return nil, fmt.Errorf("%w: please fill in all fields", ErrInvalidInput)
	}
	if p.Price.Sign() < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	receipt, err := uc.submit(ctx, func(ctx context.Context) (contract.PendingTx, error) {
		return s.gateway.RegisterProduct(ctx, name, p.Price, *p.Quantity)
	})
	if err != nil {
		return nil, err
	}
	uc.reloadProducts(ctx, s.gateway)
	return receipt, nil
}

// BuyProduct は単価 × 数量を添えて購入する。unitPrice が nil の場合はキャッシュ済みの商品価格を使う
func (uc *marketUsecase) BuyProduct(ctx context.Context, productID uint64, unitPrice *big.Int, quantity int64) (*model.TxReceipt, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	if unitPrice == nil {
		for _, p := range s.products {
			if p.ID == productID {
				unitPrice = p.Price
				break
			}
		}
		if unitPrice == nil {
			return nil, fmt.Errorf("%w: unknown product %d", ErrInvalidInput, productID)
		}
	}

	total, err := PurchaseTotal(unitPrice, uint64(quantity))
	if err != nil {
		return nil, err
	}

	receipt, err := uc.submit(ctx, func(ctx context.Context) (contract.PendingTx, error) {
		return s.gateway.BuyProduct(ctx, productID, uint64(quantity), total)
	})
	if err != nil {
		return nil, err
	}
	// 在庫が変わるため商品を読み直す。注文は LoadView で毎回読み込む
	uc.reloadProducts(ctx, s.gateway)
	return receipt, nil
}

func (uc *marketUsecase) ConfirmOrder(ctx context.Context, orderID uint64) (*model.TxReceipt, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	if !s.caller.IsOwner {
		return nil, ErrNotOwner
	}
	return uc.submit(ctx, func(ctx context.Context) (contract.PendingTx, error) {
		return s.gateway.ConfirmOrder(ctx, orderID)
	})
}

// RefundOrder の失敗理由は区別できないため、まとめて ErrRefundRejected を返す
func (uc *marketUsecase) RefundOrder(ctx context.Context, orderID uint64) (*model.TxReceipt, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	receipt, err := uc.submit(ctx, func(ctx context.Context) (contract.PendingTx, error) {
		return s.gateway.RefundByTimeout(ctx, orderID)
	})
	if err != nil {
		uc.logger.Warn("refund failed", "order_id", orderID, "error", err)
		return nil, ErrRefundRejected
	}
	return receipt, nil
}

// submit はトランザクションを送信し、取り込まれるまで待つ。再試行はしない
func (uc *marketUsecase) submit(ctx context.Context, send func(context.Context) (contract.PendingTx, error)) (*model.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.txTimeout)
	defer cancel()

	pending, err := send(ctx)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("waiting for confirmation", "tx_hash", pending.Hash().Hex())
	receipt, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("transaction confirmed", "tx_hash", receipt.TxHash, "block", receipt.BlockNumber)
	return receipt, nil
}

func (uc *marketUsecase) reloadProducts(ctx context.Context, gw contract.MarketplaceGateway) {
	products, err := gw.ListProducts(ctx)
	if err != nil {
		uc.logger.Warn("failed to reload products", "error", err)
		return
	}
	uc.storeProducts(gw, products)
}

// storeProducts はセッションが同じゲートウェイのままの場合だけキャッシュを更新する
func (uc *marketUsecase) storeProducts(gw contract.MarketplaceGateway, products []model.Product) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.sess == nil || uc.sess.gateway != gw {
		return
	}
	next := *uc.sess
	next.products = products
	uc.sess = &next
}

// ===============================================
// 読み込み
// ===============================================

func (uc *marketUsecase) LoadProducts(ctx context.Context) (*model.MarketView, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	products, err := s.gateway.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	uc.storeProducts(s.gateway, products)

	view := &model.MarketView{
		Caller:   s.caller,
		Products: ReconcileProducts(products),
	}
	if len(view.Products) == 0 {
		view.ProductsEmpty = model.EmptyProductsMessage
	}
	return view, nil
}

func (uc *marketUsecase) LoadView(ctx context.Context) (*model.MarketView, error) {
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	products, err := s.gateway.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	uc.storeProducts(s.gateway, products)

	var orders []model.Order
	if s.caller.IsOwner {
		orders, err = s.gateway.ListAllOrders(ctx)
	} else {
		orders, err = s.gateway.ListOrdersForCaller(ctx)
	}
	if err != nil {
		return nil, err
	}

	view := Reconcile(ReconcileInput{
		Caller:   s.caller,
		Products: products,
		Orders:   orders,
		Window:   s.window,
		Now:      uc.nowFn(),
	})
	return &view, nil
}

func (uc *marketUsecase) VerifyTransaction(ctx context.Context, txHash string) (*model.TxReceipt, error) {
	if uc.changes != nil {
		return uc.changes.VerifyTransaction(ctx, txHash)
	}
	s, err := uc.current()
	if err != nil {
		return nil, err
	}
	return s.gateway.VerifyTransaction(ctx, txHash)
}

// ===============================================
// 変更通知
// ===============================================

func (uc *marketUsecase) StartChangeListener(ctx context.Context) error {
	if uc.changes == nil {
		return errors.New("no change source configured")
	}
	notices, err := uc.changes.SubscribeChanges(ctx)
	if err != nil {
		return err
	}

	go func() {
		for notice := range notices {
			uc.handleChange(ctx, notice)
		}
	}()
	uc.logger.Info("contract change listener started")
	return nil
}

func (uc *marketUsecase) handleChange(ctx context.Context, notice *model.ChangeNotice) {
	s, err := uc.current()
	if err != nil {
		return
	}
	uc.logger.Debug("contract changed, refreshing products", "tx_hash", notice.TxHash, "block", notice.BlockNo)
	uc.reloadProducts(ctx, s.gateway)
}
