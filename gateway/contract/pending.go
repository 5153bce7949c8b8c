package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"escrow-market-onchain/model"
)

// ErrTxReverted はトランザクションがブロックに取り込まれたが実行に失敗したことを示す
var ErrTxReverted = errors.New("transaction failed on chain (reverted)")

// PendingTx は送信済みトランザクションのハンドル。Wait で取り込みまで待機できる
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*model.TxReceipt, error)
}

type receiptWaiter struct {
	hash         common.Hash
	backend      receiptBackend
	pollInterval time.Duration
}

func (w *receiptWaiter) Hash() common.Hash {
	return w.hash
}

// Wait はレシートが得られるまでポーリングする。キャンセルは ctx でのみ行う
func (w *receiptWaiter) Wait(ctx context.Context) (*model.TxReceipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, w.hash)
		switch {
		case err == nil && receipt != nil:
			result := &model.TxReceipt{
				TxHash:         w.hash.Hex(),
				GasUsed:        receipt.GasUsed,
				Success:        receipt.Status == types.ReceiptStatusSuccessful,
				IsContractCall: true,
			}
			if receipt.BlockNumber != nil {
				result.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if !result.Success {
				result.Status = "failed"
				return result, fmt.Errorf("%w: %s", ErrTxReverted, w.hash.Hex())
			}
			result.Status = "success"
			return result, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt %s: %w", w.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", w.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// VerifyTransaction は任意のトランザクションの状態を確認する
func (g *EthMarketplaceGateway) VerifyTransaction(ctx context.Context, txHash string) (*model.TxReceipt, error) {
	txHashObj := common.HexToHash(txHash)
	if txHashObj.Big().Cmp(big.NewInt(0)) == 0 {
		return nil, errors.New("invalid transaction hash format")
	}

	tx, isPending, err := g.backend.TransactionByHash(ctx, txHashObj)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, errors.New("transaction not found")
		}
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}

	verification := &model.TxReceipt{
		TxHash:         txHashObj.Hex(),
		IsContractCall: tx.To() != nil && *tx.To() == g.contractAddress,
	}
	if isPending {
		verification.Status = "pending"
		return verification, nil
	}

	receipt, err := g.backend.TransactionReceipt(ctx, txHashObj)
	if err != nil {
		return nil, errors.New("failed to get transaction receipt")
	}

	verification.GasUsed = receipt.GasUsed
	verification.Success = receipt.Status == types.ReceiptStatusSuccessful
	if receipt.BlockNumber != nil {
		verification.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if verification.Success {
		verification.Status = "success"
	} else {
		verification.Status = "failed"
	}
	return verification, nil
}
