package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultPollInterval 收据轮询间隔
const DefaultPollInterval = 500 * time.Millisecond

// ReceiptFetcher 按交易哈希查询收据
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TransactionWaiter 交易确认等待器
//
// 轮询查询交易收据直到出块或超时，瞬时查询错误不中断等待。
type TransactionWaiter struct {
	fetcher      ReceiptFetcher
	pollInterval time.Duration
}

// NewTransactionWaiter 创建交易确认等待器
func NewTransactionWaiter(fetcher ReceiptFetcher, pollInterval time.Duration) *TransactionWaiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &TransactionWaiter{
		fetcher:      fetcher,
		pollInterval: pollInterval,
	}
}

// Wait 等待交易确认
//
// 交易尚未出块（ethereum.NotFound）与瞬时RPC错误都继续轮询，
// 超过timeout返回超时分类错误，context取消立即返回。
func (w *TransactionWaiter) Wait(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.fetcher.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transaction wait cancelled (tx: %s): %w", txHash.Hex(), ctx.Err())
		}
		if !errors.Is(err, ethereum.NotFound) {
			// 瞬时RPC错误，下一轮继续
			logger.Warn("Transient error while polling receipt (tx: %s): %v", txHash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return nil, NewTimeoutError(txHash.Hex(),
				fmt.Sprintf("transaction confirmation timed out after %s (tx: %s)", timeout, txHash.Hex()))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction wait cancelled (tx: %s): %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
