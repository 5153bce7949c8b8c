package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"escrow-market-onchain/gateway/wallet"
	"escrow-market-onchain/model"
	"escrow-market-onchain/observability"
)

var ErrNoSigner = errors.New("gateway has no signer")

const defaultPollInterval = 2 * time.Second

// MarketplaceGateway はエスクローマーケットプレイスコントラクトとの境界
type MarketplaceGateway interface {
	// Caller はゲートウェイに紐づいたアカウントを返す
	Caller() common.Address

	// ContractAddress はコントラクトアドレスを返す
	ContractAddress() string

	Owner(ctx context.Context) (common.Address, error)
	ConfirmationWindow(ctx context.Context) (uint64, error)
	ProductCount(ctx context.Context) (uint64, error)
	Product(ctx context.Context, index uint64) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	// ListOrdersForCaller は呼び出し元アカウントの注文だけを返す
	ListOrdersForCaller(ctx context.Context) ([]model.Order, error)

	// ListAllOrders は全注文を返す (コントラクト側でオーナー限定)
	ListAllOrders(ctx context.Context) ([]model.Order, error)

	RegisterProduct(ctx context.Context, name string, price *big.Int, quantity uint64) (PendingTx, error)
	BuyProduct(ctx context.Context, productID, quantity uint64, value *big.Int) (PendingTx, error)
	ConfirmOrder(ctx context.Context, orderID uint64) (PendingTx, error)
	RefundByTimeout(ctx context.Context, orderID uint64) (PendingTx, error)

	// VerifyTransaction はトランザクションを検証
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxReceipt, error)

	// SubscribeChanges はコントラクトのログを購読し、変更通知として流す
	SubscribeChanges(ctx context.Context) (<-chan *model.ChangeNotice, error)
}

// EthMarketplaceGateway は go-ethereum による実装
type EthMarketplaceGateway struct {
	backend         Backend
	contractAddress common.Address
	contractABI     abi.ABI
	chainID         *big.Int
	signer          wallet.Signer
	metrics         *observability.Metrics
	pollInterval    time.Duration
	logger          *slog.Logger
}

type Option func(*EthMarketplaceGateway)

func WithMetrics(m *observability.Metrics) Option {
	return func(g *EthMarketplaceGateway) { g.metrics = m }
}

func WithPollInterval(d time.Duration) Option {
	return func(g *EthMarketplaceGateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// NewMarketplaceGateway は signer に紐づいたゲートウェイを作成。signer が nil の場合は読み取り専用
func NewMarketplaceGateway(backend Backend, contractAddr string, chainID *big.Int, signer wallet.Signer, opts ...Option) (*EthMarketplaceGateway, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	parsedABI, err := abi.JSON(strings.NewReader(EscrowMarketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	contractAddress := common.HexToAddress(contractAddr)
	logger := slog.Default().With("component", "contract", "contract", contractAddress.Hex())
	if contractAddress == (common.Address{}) {
		logger.Warn("contract address is the zero address")
	}

	g := &EthMarketplaceGateway{
		backend:         backend,
		contractAddress: contractAddress,
		contractABI:     parsedABI,
		chainID:         chainID,
		signer:          signer,
		pollInterval:    defaultPollInterval,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *EthMarketplaceGateway) ContractAddress() string {
	return g.contractAddress.Hex()
}

func (g *EthMarketplaceGateway) Caller() common.Address {
	if g.signer == nil {
		return common.Address{}
	}
	return g.signer.Address()
}

// ===============================================
// 読み取り
// ===============================================

// call は eth_call を実行して生の戻り値を返す。From には紐づいたアカウントを使う
func (g *EthMarketplaceGateway) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	start := time.Now()
	data, err := g.contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		From: g.Caller(),
		To:   &g.contractAddress,
		Data: data,
	}
	result, err := g.backend.CallContract(ctx, msg, nil)
	g.metrics.ObserveCall(method, start, err)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return result, nil
}

func (g *EthMarketplaceGateway) callSingle(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	result, err := g.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := g.contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(out))
	}
	return out[0], nil
}

func (g *EthMarketplaceGateway) Owner(ctx context.Context) (common.Address, error) {
	out, err := g.callSingle(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out, new(common.Address)).(*common.Address), nil
}

func (g *EthMarketplaceGateway) ConfirmationWindow(ctx context.Context) (uint64, error) {
	out, err := g.callSingle(ctx, "CONFIRMATION_WINDOW")
	if err != nil {
		return 0, err
	}
	return toUint64("CONFIRMATION_WINDOW", *abi.ConvertType(out, new(*big.Int)).(**big.Int))
}

func (g *EthMarketplaceGateway) ProductCount(ctx context.Context) (uint64, error) {
	out, err := g.callSingle(ctx, "getProductCount")
	if err != nil {
		return 0, err
	}
	return toUint64("getProductCount", *abi.ConvertType(out, new(*big.Int)).(**big.Int))
}

// Product は products(index) を読み出す
func (g *EthMarketplaceGateway) Product(ctx context.Context, index uint64) (*model.Product, error) {
	result, err := g.call(ctx, "products", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}

	var p struct {
		Id       *big.Int
		Name     string
		Price    *big.Int
		Quantity *big.Int
	}
	if err := g.contractABI.UnpackIntoInterface(&p, "products", result); err != nil {
		return nil, fmt.Errorf("unpack products: %w", err)
	}

	id, err := toUint64("product id", p.Id)
	if err != nil {
		return nil, err
	}
	qty, err := toUint64("product quantity", p.Quantity)
	if err != nil {
		return nil, err
	}
	return &model.Product{
		ID:       id,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: qty,
	}, nil
}

// ListProducts は登録済みの全商品を登録順に返す
func (g *EthMarketplaceGateway) ListProducts(ctx context.Context) ([]model.Product, error) {
	count, err := g.ProductCount(ctx)
	if err != nil {
		return nil, err
	}
	products := make([]model.Product, 0, count)
	for i := uint64(0); i < count; i++ {
		p, err := g.Product(ctx, i)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

// orderTuple は Order 構造体のABI上の並び
type orderTuple struct {
	ProductId    *big.Int
	Buyer        common.Address
	Amount       *big.Int
	Quantity     *big.Int
	PurchaseTime *big.Int
	Status       uint8
}

func (g *EthMarketplaceGateway) orders(ctx context.Context, method string) ([]orderTuple, error) {
	result, err := g.call(ctx, method)
	if err != nil {
		return nil, err
	}
	var tuples []orderTuple
	if err := g.contractABI.UnpackIntoInterface(&tuples, method, result); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return tuples, nil
}

func toOrder(id uint64, t orderTuple) (model.Order, error) {
	productID, err := toUint64("order product id", t.ProductId)
	if err != nil {
		return model.Order{}, err
	}
	qty, err := toUint64("order quantity", t.Quantity)
	if err != nil {
		return model.Order{}, err
	}
	purchasedAt, err := toUint64("order purchase time", t.PurchaseTime)
	if err != nil {
		return model.Order{}, err
	}
	return model.Order{
		ID:          id,
		ProductID:   productID,
		Buyer:       t.Buyer.Hex(),
		Amount:      t.Amount,
		Quantity:    qty,
		PurchasedAt: purchasedAt,
		Status:      model.OrderStatus(t.Status),
	}, nil
}

// ListAllOrders の注文IDは配列上の位置 (= コントラクトの注文ID)
func (g *EthMarketplaceGateway) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	tuples, err := g.orders(ctx, "getAllOrders")
	if err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(tuples))
	for i, t := range tuples {
		o, err := toOrder(uint64(i), t)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// ListOrdersForCaller は呼び出し元の注文を返す。
// getAllOrders が許可されていればコントラクトの注文IDを保ったまま絞り込み、
// 拒否された場合は getMyOrders の位置をIDとして使う。
func (g *EthMarketplaceGateway) ListOrdersForCaller(ctx context.Context) ([]model.Order, error) {
	caller := g.Caller()
	if caller == (common.Address{}) {
		return nil, ErrNoSigner
	}

	all, err := g.orders(ctx, "getAllOrders")
	if err == nil {
		mine := make([]model.Order, 0)
		for i, t := range all {
			if t.Buyer != caller {
				continue
			}
			o, err := toOrder(uint64(i), t)
			if err != nil {
				return nil, err
			}
			mine = append(mine, o)
		}
		return mine, nil
	}
	g.logger.Debug("getAllOrders refused for caller, using getMyOrders positions", "caller", caller.Hex(), "error", err)

	tuples, err := g.orders(ctx, "getMyOrders")
	if err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(tuples))
	for i, t := range tuples {
		o, err := toOrder(uint64(i), t)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func toUint64(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s missing", field)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %s", field, v.String())
	}
	return v.Uint64(), nil
}

// ===============================================
// 書き込み
// ===============================================

func (g *EthMarketplaceGateway) RegisterProduct(ctx context.Context, name string, price *big.Int, quantity uint64) (PendingTx, error) {
	return g.transact(ctx, "registerProduct", nil, name, price, new(big.Int).SetUint64(quantity))
}

// BuyProduct は value (Wei) を添えて購入トランザクションを送る
func (g *EthMarketplaceGateway) BuyProduct(ctx context.Context, productID, quantity uint64, value *big.Int) (PendingTx, error) {
	return g.transact(ctx, "buyProduct", value, new(big.Int).SetUint64(productID), new(big.Int).SetUint64(quantity))
}

func (g *EthMarketplaceGateway) ConfirmOrder(ctx context.Context, orderID uint64) (PendingTx, error) {
	return g.transact(ctx, "confirmOrder", nil, new(big.Int).SetUint64(orderID))
}

func (g *EthMarketplaceGateway) RefundByTimeout(ctx context.Context, orderID uint64) (PendingTx, error) {
	return g.transact(ctx, "refundByTimeOut", nil, new(big.Int).SetUint64(orderID))
}

func (g *EthMarketplaceGateway) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (PendingTx, error) {
	if g.signer == nil {
		return nil, ErrNoSigner
	}
	start := time.Now()
	tx, err := g.sendTx(ctx, method, value, args...)
	g.metrics.ObserveCall(method, start, err)
	if err != nil {
		return nil, err
	}

	g.logger.Info("transaction sent", "method", method, "tx_hash", tx.Hash().Hex(), "nonce", tx.Nonce(), "value_wei", tx.Value().String())
	return &receiptWaiter{
		hash:         tx.Hash(),
		backend:      g.backend,
		pollInterval: g.pollInterval,
	}, nil
}

func (g *EthMarketplaceGateway) sendTx(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Transaction, error) {
	data, err := g.contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	if g.chainID == nil {
		return nil, errors.New("chain id unknown")
	}
	from := g.signer.Address()

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	// コントラクトが拒否する呼び出しはここで revert として返る
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &g.contractAddress,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, err
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := g.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   g.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &g.contractAddress,
			Value:     value,
			Data:      data,
		})
	} else {
		price, err := g.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &g.contractAddress,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := g.signer.SignTx(tx, g.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}
