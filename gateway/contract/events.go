package contract

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"escrow-market-onchain/model"
)

// SubscribeChanges はコントラクトアドレスのログを WebSocket 経由で購読する。
// イベントの中身は解釈せず、ログ一件を変更通知一件として流す。
func (g *EthMarketplaceGateway) SubscribeChanges(ctx context.Context) (<-chan *model.ChangeNotice, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{g.contractAddress},
	}

	logs := make(chan types.Log)
	sub, err := g.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		// HTTP 接続では購読できない
		return nil, fmt.Errorf("subscribe to contract logs: %w", err)
	}
	g.logger.Info("subscribed to contract logs")

	notices := make(chan *model.ChangeNotice, 100)
	go func() {
		defer close(notices)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				g.logger.Info("context cancelled, stopping log subscription")
				return
			case err := <-sub.Err():
				g.logger.Error("log subscription ended", "error", err)
				return
			case vLog := <-logs:
				if vLog.Address != g.contractAddress || vLog.Removed {
					continue
				}
				notice := &model.ChangeNotice{
					TxHash:  vLog.TxHash.Hex(),
					BlockNo: vLog.BlockNumber,
				}
				select {
				case notices <- notice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return notices, nil
}
