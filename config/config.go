package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"escrow-market-onchain/gateway/contract"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Node        Node
	Contract    Contract
	Wallet      Wallet `envPrefix:"WALLET_"`
	Tx          Tx     `envPrefix:"TX_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPServer struct {
	Port               string   `env:"PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

type Node struct {
	URL string `env:"ETH_NODE_URL,required"`
	// WSURL はログ購読用。空の場合は変更通知を使わない
	WSURL string `env:"ETH_NODE_WS_URL"`
}

type Contract struct {
	Address string `env:"MARKETPLACE_CONTRACT_ADDRESS"`
}

// Wallet はキーストアか秘密鍵のどちらか一方を設定する
type Wallet struct {
	KeystoreDir string `env:"KEYSTORE_DIR"`
	Passphrase  string `env:"PASSPHRASE"`
	PrivateKey  string `env:"PRIVATE_KEY"`
	Account     string `env:"ACCOUNT"`
}

type Tx struct {
	WaitTimeout  time.Duration `env:"WAIT_TIMEOUT" envDefault:"3m"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// Load は .env があれば読み込んだ上で環境変数から設定を作る
func Load() (*Config, error) {
	// 本番では .env が無いのが普通
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom は与えられた変数だけから設定を作る
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Contract.Address == "" {
		cfg.Contract.Address = contract.DefaultMarketplaceAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Contract.Address) {
		return fmt.Errorf("MARKETPLACE_CONTRACT_ADDRESS is not an address: %q", c.Contract.Address)
	}
	if c.Wallet.KeystoreDir != "" && c.Wallet.PrivateKey != "" {
		return errors.New("set either WALLET_KEYSTORE_DIR or WALLET_PRIVATE_KEY, not both")
	}
	if c.Wallet.Account != "" && !common.IsHexAddress(c.Wallet.Account) {
		return fmt.Errorf("WALLET_ACCOUNT is not an address: %q", c.Wallet.Account)
	}
	if c.Tx.WaitTimeout <= 0 || c.Tx.PollInterval <= 0 {
		return errors.New("TX_WAIT_TIMEOUT and TX_POLL_INTERVAL must be positive")
	}
	return nil
}

// HasWallet はウォレットが設定されているか
func (c *Config) HasWallet() bool {
	return strings.TrimSpace(c.Wallet.KeystoreDir) != "" || strings.TrimSpace(c.Wallet.PrivateKey) != ""
}
