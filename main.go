package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"escrow-market-onchain/config"
	contractGateway "escrow-market-onchain/gateway/contract"
	"escrow-market-onchain/gateway/wallet"
	marketHandler "escrow-market-onchain/handler/market"
	"escrow-market-onchain/observability"
	"escrow-market-onchain/observability/logging"
	marketUsecase "escrow-market-onchain/usecase/market"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// --- 1. 初期設定 ---
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("escrow-market", "", "info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("escrow-market", cfg.Environment.Name, cfg.Log.Level)

	// --- 2. ethclientの初期化 ---
	client, err := ethclient.Dial(cfg.Node.URL)
	if err != nil {
		logger.Error("failed to connect to node", "error", err)
		os.Exit(1)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		logger.Error("failed to fetch chain id", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to node (HTTP)", "chain_id", chainID.String())

	// WebSocket接続でログ購読。無ければHTTPで代用し、購読は失敗する
	eventClient := client
	if cfg.Node.WSURL != "" {
		wsClient, err := ethclient.Dial(cfg.Node.WSURL)
		if err != nil {
			logger.Warn("failed to connect WebSocket for events", "error", err)
		} else {
			eventClient = wsClient
			logger.Info("connected to node (WebSocket for events)")
		}
	}

	// --- 3. ウォレット ---
	var provider wallet.Provider
	if !cfg.HasWallet() {
		logger.Warn("no wallet configured, connecting will fail until one is set")
	}
	switch {
	case cfg.Wallet.KeystoreDir != "":
		provider = wallet.NewKeystoreProvider(wallet.OpenKeystore(cfg.Wallet.KeystoreDir), cfg.Wallet.Passphrase)
		logger.Info("wallet provider: keystore", "dir", cfg.Wallet.KeystoreDir)
	case cfg.Wallet.PrivateKey != "":
		keyProvider, err := wallet.NewKeyProvider(cfg.Wallet.PrivateKey)
		if err != nil {
			logger.Error("invalid WALLET_PRIVATE_KEY", "error", err)
			os.Exit(1)
		}
		provider = keyProvider
		logger.Info("wallet provider: private key")
	}

	// --- 4. Marketplace機能の依存性注入 ---
	metrics := observability.NewMetrics()
	gatewayOpts := []contractGateway.Option{
		contractGateway.WithMetrics(metrics),
		contractGateway.WithPollInterval(cfg.Tx.PollInterval),
	}

	factory := func(ctx context.Context, signer wallet.Signer) (contractGateway.MarketplaceGateway, error) {
		gw, err := contractGateway.NewMarketplaceGateway(client, cfg.Contract.Address, chainID, signer, gatewayOpts...)
		if err != nil {
			return nil, err
		}
		return gw, nil
	}

	changeSource, err := contractGateway.NewMarketplaceGateway(eventClient, cfg.Contract.Address, chainID, nil, gatewayOpts...)
	if err != nil {
		logger.Error("failed to initialize contract gateway", "error", err)
		os.Exit(1)
	}
	logger.Info("marketplace contract", "address", changeSource.ContractAddress())

	marketUC := marketUsecase.NewMarketUsecase(provider, factory,
		marketUsecase.WithPreferredAccount(cfg.Wallet.Account),
		marketUsecase.WithTxTimeout(cfg.Tx.WaitTimeout),
		marketUsecase.WithChangeSource(changeSource),
	)
	apiHdlr := marketHandler.NewMarketHandler(marketUC)
	pageHdlr := marketHandler.NewPageHandler(marketUC, changeSource.ContractAddress())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// イベントリスナーを開始
	if err := marketUC.StartChangeListener(ctx); err != nil {
		logger.Warn("failed to start change listener, products reload after each action only", "error", err)
	}

	// --- 5. ルーティングの設定 ---
	router := mux.NewRouter()
	router.Use(marketHandler.RequestIDMiddleware, metrics.Middleware)

	// ヘルスチェック用エンドポイント
	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
	router.HandleFunc("/", health).Methods("GET")
	router.HandleFunc("/health", health).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	pageHdlr.Register(router)
	apiHdlr.Register(router)

	// --- 6. CORSミドルウェアの設定 ---
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	})

	// --- 7. サーバー起動 ---
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("escrow marketplace service starting", "port", cfg.HTTP.Port,
			"endpoints", []string{"GET /health", "GET /app", "GET /api/v1/view", "GET /metrics"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
