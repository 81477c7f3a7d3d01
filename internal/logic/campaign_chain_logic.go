package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChainClient 链上客户端能力集合
type ChainClient interface {
	CreateCampaign(ctx context.Context, beneficiary string, goalAmount decimal.Decimal, durationSeconds int64, title, description string) (common.Hash, error)
	Donate(ctx context.Context, chainCampaignId uint64, amount decimal.Decimal) (common.Hash, error)
	FinalizeCampaign(ctx context.Context, chainCampaignId uint64) (common.Hash, error)
	ApproveUSDC(ctx context.Context, amount decimal.Decimal) (common.Hash, error)
	GetCampaign(ctx context.Context, chainCampaignId uint64) (*chain.CampaignState, error)
	WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	CheckReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	QueryCampaignLogs(ctx context.Context, contractAddress string) ([]types.Log, error)
}

// ChainResult 链上异步操作结果
type ChainResult struct {
	RecordId int64             `json:"record_id"`
	TxHash   string            `json:"tx_hash"`
	Status   model.ChainStatus `json:"status"`
	Err      error             `json:"-"`
}

// ErrConcurrentModification 乐观锁冲突
var ErrConcurrentModification = fmt.Errorf("记录已被其他操作修改，请重试")

// CampaignChainLogic 活动上链编排
//
// 同步阶段只做校验和状态预占，链上提交与确认在协程池内异步执行，
// 结果通过缓冲channel返回。
type CampaignChainLogic struct {
	db      *gorm.DB
	client  ChainClient
	decoder *chain.EventDecoder
	pool    *ants.Pool
}

// NewCampaignChainLogic 创建活动上链编排
func NewCampaignChainLogic(db *gorm.DB, client ChainClient, decoder *chain.EventDecoder, pool *ants.Pool) *CampaignChainLogic {
	return &CampaignChainLogic{
		db:      db,
		client:  client,
		decoder: decoder,
		pool:    pool,
	}
}

// Create 发起活动上链
//
// 校验通过后将状态置为pending并异步提交部署交易，
// 同一活动已有进行中的链上操作时拒绝重复发起。
func (l *CampaignChainLogic) Create(ctx context.Context, campaignId int64) (<-chan ChainResult, error) {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return nil, err
	}

	if campaign.ChainStatus.IsInFlight() {
		return nil, chain.NewValidationError("该活动已有进行中的链上操作")
	}
	if campaign.ChainStatus == model.ChainStatusActive {
		return nil, chain.NewValidationError("该活动已完成上链")
	}
	if err := l.validateForCreate(campaign); err != nil {
		return nil, err
	}

	if err := l.updateCampaign(campaign, map[string]interface{}{
		"chain_status":  model.ChainStatusPending,
		"error_message": "",
	}); err != nil {
		return nil, err
	}

	results := make(chan ChainResult, 1)
	if err := l.pool.Submit(func() {
		defer close(results)
		results <- l.runCreate(campaignId)
	}); err != nil {
		// 协程池饱和，回滚状态预占
		l.markFailed(campaignId, "", "链上任务队列已满，请稍后重试")
		return nil, fmt.Errorf("failed to submit chain task: %w", err)
	}

	return results, nil
}

// validateForCreate 上链前参数校验，不触链
func (l *CampaignChainLogic) validateForCreate(campaign *model.CampaignModel) error {
	if !common.IsHexAddress(campaign.BeneficiaryAddress) {
		return chain.NewValidationError("受益人地址格式不正确")
	}
	if !campaign.TargetAmount.IsPositive() {
		return chain.NewValidationError("目标金额必须大于0")
	}
	if campaign.Duration() <= 0 {
		return chain.NewValidationError("活动结束时间必须晚于开始时间")
	}
	if campaign.Title == "" {
		return chain.NewValidationError("活动标题不能为空")
	}
	return nil
}

// runCreate 提交部署交易并等待确认
func (l *CampaignChainLogic) runCreate(campaignId int64) ChainResult {
	ctx := context.Background()

	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return ChainResult{RecordId: campaignId, Status: model.ChainStatusFailed, Err: err}
	}

	txHash, err := l.client.CreateCampaign(ctx,
		campaign.BeneficiaryAddress, campaign.TargetAmount, campaign.Duration(),
		campaign.Title, campaign.Description)
	if err != nil {
		logger.Error("Failed to submit createCampaign transaction (campaign: %d): %v", campaignId, err)
		l.markFailed(campaignId, "", chain.Describe(err))
		return ChainResult{RecordId: campaignId, Status: model.ChainStatusFailed, Err: err}
	}

	// 哈希持久化独立于后续确认流程，确认失败也能追踪到交易
	if err := l.recordSubmission(campaignId, txHash.Hex()); err != nil {
		logger.Error("Failed to record submission (campaign: %d, tx: %s): %v", campaignId, txHash.Hex(), err)
		return ChainResult{RecordId: campaignId, TxHash: txHash.Hex(), Status: model.ChainStatusProcessing, Err: err}
	}

	receipt, err := l.client.WaitForReceipt(ctx, txHash.Hex())
	if err != nil {
		logger.Error("Failed to confirm createCampaign transaction (campaign: %d, tx: %s): %v",
			campaignId, txHash.Hex(), err)
		l.markFailed(campaignId, txHash.Hex(), chain.Describe(err))
		return ChainResult{RecordId: campaignId, TxHash: txHash.Hex(), Status: model.ChainStatusFailed, Err: err}
	}

	return l.finishCreate(campaignId, txHash.Hex(), receipt)
}

// finishCreate 按确认结果落库
//
// 合约地址只能从收据中CampaignCreated事件的发出地址恢复；
// 交易成功但事件缺失时仍置为active，链上标识缺失作为数据质量问题单独告警。
func (l *CampaignChainLogic) finishCreate(campaignId int64, txHash string, receipt *types.Receipt) ChainResult {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusFailed, Err: err}
	}

	// 重复确认幂等处理
	if campaign.ChainStatus == model.ChainStatusActive && campaign.HasChainIdentity() {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		message := fmt.Sprintf("交易执行失败 (tx: %s)", txHash)
		l.markFailed(campaignId, txHash, message)
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusFailed,
			Err: chain.NewContractError(message, nil)}
	}

	columns := map[string]interface{}{
		"chain_status":     model.ChainStatusActive,
		"transaction_hash": txHash,
		"error_message":    "",
	}

	// 链上标识一经写入不再变更
	created := l.extractCampaignCreated(receipt)
	switch {
	case campaign.HasChainIdentity():
	case created != nil:
		columns["contract_address"] = created.ContractAddress.Hex()
		columns["chain_campaign_id"] = created.ChainCampaignId.Uint64()
	default:
		logger.Error("CampaignCreated event missing in confirmed receipt (campaign: %d, tx: %s), chain identity not recovered",
			campaignId, txHash)
	}

	if err := l.updateCampaign(campaign, columns); err != nil {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive, Err: err}
	}

	logger.Info("Campaign deployed on chain (campaign: %d, tx: %s, contract: %s)",
		campaignId, txHash, columns["contract_address"])

	return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive}
}

// extractCampaignCreated 从收据日志中提取活动创建事件
func (l *CampaignChainLogic) extractCampaignCreated(receipt *types.Receipt) *chain.CampaignCreatedEvent {
	for _, log := range receipt.Logs {
		event, err := l.decoder.Decode(*log)
		if err != nil {
			logger.Warn("Failed to decode receipt log (tx: %s): %v", receipt.TxHash.Hex(), err)
			continue
		}
		if created, ok := event.(chain.CampaignCreatedEvent); ok {
			return &created
		}
	}
	return nil
}

// Finalize 发起活动完结
//
// 仅允许链上状态为active且已写入链上标识的活动完结，
// 确认成功后活动业务状态置为completed并以链上总额覆盖本地金额。
func (l *CampaignChainLogic) Finalize(ctx context.Context, campaignId int64) (<-chan ChainResult, error) {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return nil, err
	}

	if campaign.ChainStatus != model.ChainStatusActive {
		return nil, chain.NewValidationError("活动尚未完成上链，无法完结")
	}
	if !campaign.HasChainIdentity() {
		return nil, chain.NewValidationError("活动缺少链上标识，无法完结")
	}
	if campaign.Status == model.CampaignStatusCompleted {
		return nil, chain.NewValidationError("该活动已完结")
	}

	if err := l.updateCampaign(campaign, map[string]interface{}{
		"chain_status":  model.ChainStatusProcessing,
		"error_message": "",
	}); err != nil {
		return nil, err
	}

	chainCampaignId := campaign.ChainCampaignId

	results := make(chan ChainResult, 1)
	if err := l.pool.Submit(func() {
		defer close(results)
		results <- l.runFinalize(campaignId, chainCampaignId)
	}); err != nil {
		l.markFailed(campaignId, "", "链上任务队列已满，请稍后重试")
		return nil, fmt.Errorf("failed to submit chain task: %w", err)
	}

	return results, nil
}

// runFinalize 提交完结交易并等待确认
func (l *CampaignChainLogic) runFinalize(campaignId int64, chainCampaignId uint64) ChainResult {
	ctx := context.Background()

	txHash, err := l.client.FinalizeCampaign(ctx, chainCampaignId)
	if err != nil {
		logger.Error("Failed to submit finalizeCampaign transaction (campaign: %d): %v", campaignId, err)
		l.markFailed(campaignId, "", chain.Describe(err))
		return ChainResult{RecordId: campaignId, Status: model.ChainStatusFailed, Err: err}
	}

	if err := l.recordSubmission(campaignId, txHash.Hex()); err != nil {
		logger.Error("Failed to record submission (campaign: %d, tx: %s): %v", campaignId, txHash.Hex(), err)
	}

	receipt, err := l.client.WaitForReceipt(ctx, txHash.Hex())
	if err != nil {
		logger.Error("Failed to confirm finalizeCampaign transaction (campaign: %d, tx: %s): %v",
			campaignId, txHash.Hex(), err)
		l.markFailed(campaignId, txHash.Hex(), chain.Describe(err))
		return ChainResult{RecordId: campaignId, TxHash: txHash.Hex(), Status: model.ChainStatusFailed, Err: err}
	}

	return l.finishFinalize(campaignId, txHash.Hex(), receipt)
}

// finishFinalize 按完结确认结果落库
func (l *CampaignChainLogic) finishFinalize(campaignId int64, txHash string, receipt *types.Receipt) ChainResult {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusFailed, Err: err}
	}

	// 重复确认幂等处理
	if campaign.ChainStatus == model.ChainStatusActive && campaign.Status == model.CampaignStatusCompleted {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		message := fmt.Sprintf("完结交易执行失败 (tx: %s)", txHash)
		l.markFailed(campaignId, txHash, message)
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusFailed,
			Err: chain.NewContractError(message, nil)}
	}

	columns := map[string]interface{}{
		"chain_status":     model.ChainStatusActive,
		"status":           model.CampaignStatusCompleted,
		"transaction_hash": txHash,
		"error_message":    "",
	}

	for _, log := range receipt.Logs {
		event, decodeErr := l.decoder.Decode(*log)
		if decodeErr != nil {
			continue
		}
		if finalized, ok := event.(chain.CampaignFinalizedEvent); ok {
			columns["current_amount"] = finalized.TotalRaisedUSDC()
			break
		}
	}

	if err := l.updateCampaign(campaign, columns); err != nil {
		return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive, Err: err}
	}

	logger.Info("Campaign finalized on chain (campaign: %d, tx: %s)", campaignId, txHash)

	return ChainResult{RecordId: campaignId, TxHash: txHash, Status: model.ChainStatusActive}
}

// Retry 重试失败的上链操作
//
// 仅允许failed状态重试。已写入链上标识的活动说明部署早已成功，
// 其失败必然来自完结流程，重试只会重新提交完结交易，绝不重新部署。
// 重试前先探测旧交易的收据：旧交易实际已确认成功时直接走确认落库
// 流程，避免重复上链。
func (l *CampaignChainLogic) Retry(ctx context.Context, campaignId int64) (<-chan ChainResult, error) {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return nil, err
	}

	if !campaign.ChainStatus.CanRetry() {
		return nil, chain.NewValidationError("仅失败状态的活动允许重试")
	}

	if campaign.HasChainIdentity() {
		return l.retryFinalize(ctx, campaign)
	}

	if err := l.validateForCreate(campaign); err != nil {
		return nil, err
	}

	if campaign.TransactionHash != "" {
		receipt, checkErr := l.client.CheckReceipt(ctx, campaign.TransactionHash)
		if checkErr != nil {
			logger.Warn("Failed to probe previous transaction before retry (campaign: %d, tx: %s): %v",
				campaignId, campaign.TransactionHash, checkErr)
		} else if receipt != nil && receipt.Status == types.ReceiptStatusSuccessful {
			logger.Info("Previous transaction already confirmed, skipping resubmission (campaign: %d, tx: %s)",
				campaignId, campaign.TransactionHash)
			results := make(chan ChainResult, 1)
			results <- l.finishCreate(campaignId, campaign.TransactionHash, receipt)
			close(results)
			return results, nil
		}
	}

	if err := l.updateCampaign(campaign, map[string]interface{}{
		"chain_status":  model.ChainStatusPending,
		"error_message": "",
	}); err != nil {
		return nil, err
	}

	results := make(chan ChainResult, 1)
	if err := l.pool.Submit(func() {
		defer close(results)
		results <- l.runCreate(campaignId)
	}); err != nil {
		l.markFailed(campaignId, campaign.TransactionHash, "链上任务队列已满，请稍后重试")
		return nil, fmt.Errorf("failed to submit chain task: %w", err)
	}

	return results, nil
}

// retryFinalize 重新提交完结交易
func (l *CampaignChainLogic) retryFinalize(ctx context.Context, campaign *model.CampaignModel) (<-chan ChainResult, error) {
	if campaign.TransactionHash != "" {
		receipt, checkErr := l.client.CheckReceipt(ctx, campaign.TransactionHash)
		if checkErr != nil {
			logger.Warn("Failed to probe previous transaction before retry (campaign: %d, tx: %s): %v",
				campaign.Id, campaign.TransactionHash, checkErr)
		} else if receipt != nil && receipt.Status == types.ReceiptStatusSuccessful {
			logger.Info("Previous transaction already confirmed, skipping resubmission (campaign: %d, tx: %s)",
				campaign.Id, campaign.TransactionHash)
			results := make(chan ChainResult, 1)
			results <- l.finishFinalize(campaign.Id, campaign.TransactionHash, receipt)
			close(results)
			return results, nil
		}
	}

	if err := l.updateCampaign(campaign, map[string]interface{}{
		"chain_status":  model.ChainStatusPending,
		"error_message": "",
	}); err != nil {
		return nil, err
	}

	campaignId := campaign.Id
	chainCampaignId := campaign.ChainCampaignId

	results := make(chan ChainResult, 1)
	if err := l.pool.Submit(func() {
		defer close(results)
		results <- l.runFinalize(campaignId, chainCampaignId)
	}); err != nil {
		l.markFailed(campaignId, campaign.TransactionHash, "链上任务队列已满，请稍后重试")
		return nil, fmt.Errorf("failed to submit chain task: %w", err)
	}

	return results, nil
}

// MonitorProcessing 巡检滞留在pending与processing状态的活动
//
// 服务重启会丢失等待中的提交与确认流程，定时巡检按实际状态补救：
// pending滞留说明提交流程未走完且没有可追踪的哈希，直接置为失败；
// processing已出块的按确认流程落库，超过确认时限仍未出块的置为失败。
func (l *CampaignChainLogic) MonitorProcessing(ctx context.Context, stuckAfter time.Duration) error {
	cutoff := time.Now().Add(-stuckAfter)

	var pendings []model.CampaignModel
	if err := l.db.Where("chain_status = ? AND updated_at < ?", model.ChainStatusPending, cutoff).
		Find(&pendings).Error; err != nil {
		return fmt.Errorf("failed to query pending campaigns: %w", err)
	}
	for _, campaign := range pendings {
		l.markFailed(campaign.Id, "", "待提交状态滞留，提交流程未完成")
	}

	var campaigns []model.CampaignModel
	if err := l.db.Where("chain_status = ? AND updated_at < ?", model.ChainStatusProcessing, cutoff).
		Find(&campaigns).Error; err != nil {
		return fmt.Errorf("failed to query processing campaigns: %w", err)
	}

	for _, campaign := range campaigns {
		if campaign.TransactionHash == "" {
			l.markFailed(campaign.Id, "", "处理中状态滞留且无交易哈希")
			continue
		}

		receipt, err := l.client.CheckReceipt(ctx, campaign.TransactionHash)
		if err != nil {
			logger.Warn("Failed to check stuck transaction (campaign: %d, tx: %s): %v",
				campaign.Id, campaign.TransactionHash, err)
			continue
		}
		if receipt == nil {
			l.markFailed(campaign.Id, campaign.TransactionHash,
				fmt.Sprintf("交易确认超时 (tx: %s)", campaign.TransactionHash))
			continue
		}

		if campaign.HasChainIdentity() {
			l.finishFinalize(campaign.Id, campaign.TransactionHash, receipt)
		} else {
			l.finishCreate(campaign.Id, campaign.TransactionHash, receipt)
		}
	}

	return nil
}

// getCampaign 加载活动记录
func (l *CampaignChainLogic) getCampaign(campaignId int64) (*model.CampaignModel, error) {
	var campaign model.CampaignModel
	if err := l.db.First(&campaign, campaignId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, chain.NewValidationError("活动不存在")
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", campaignId, err)
	}
	return &campaign, nil
}

// updateCampaign 乐观锁更新
func (l *CampaignChainLogic) updateCampaign(campaign *model.CampaignModel, columns map[string]interface{}) error {
	columns["lock_version"] = campaign.LockVersion + 1

	result := l.db.Model(&model.CampaignModel{}).
		Where("id = ? AND lock_version = ?", campaign.Id, campaign.LockVersion).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update campaign %d: %w", campaign.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}

	campaign.LockVersion++
	return nil
}

// recordSubmission 交易提交后立即持久化哈希与processing状态
//
// 独立写入，不依赖确认结果，进程崩溃后也能按哈希追踪交易。
func (l *CampaignChainLogic) recordSubmission(campaignId int64, txHash string) error {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		return err
	}
	return l.updateCampaign(campaign, map[string]interface{}{
		"chain_status":     model.ChainStatusProcessing,
		"transaction_hash": txHash,
		"error_message":    "",
	})
}

// markFailed 标记失败并记录可读错误描述
func (l *CampaignChainLogic) markFailed(campaignId int64, txHash string, message string) {
	campaign, err := l.getCampaign(campaignId)
	if err != nil {
		logger.Error("Failed to load campaign %d for failure marking: %v", campaignId, err)
		return
	}

	columns := map[string]interface{}{
		"chain_status":  model.ChainStatusFailed,
		"error_message": message,
	}
	if txHash != "" {
		columns["transaction_hash"] = txHash
	}

	if err := l.updateCampaign(campaign, columns); err != nil {
		logger.Error("Failed to mark campaign %d as failed: %v", campaignId, err)
	}
}
