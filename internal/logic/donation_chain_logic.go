package logic

import (
	"context"
	"fmt"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// DonationChainLogic 捐赠上链编排
//
// 捐赠分两步交易：先授权活动合约划转USDC，再调用捐赠方法，
// 两步都确认成功才算捐赠上链完成。
type DonationChainLogic struct {
	db     *gorm.DB
	client ChainClient
	pool   *ants.Pool
}

// NewDonationChainLogic 创建捐赠上链编排
func NewDonationChainLogic(db *gorm.DB, client ChainClient, pool *ants.Pool) *DonationChainLogic {
	return &DonationChainLogic{
		db:     db,
		client: client,
		pool:   pool,
	}
}

// Donate 发起捐赠上链
func (l *DonationChainLogic) Donate(ctx context.Context, donationId int64) (<-chan ChainResult, error) {
	donation, err := l.getDonation(donationId)
	if err != nil {
		return nil, err
	}

	if donation.ChainStatus.IsInFlight() {
		return nil, chain.NewValidationError("该捐赠已有进行中的链上操作")
	}
	if donation.ChainStatus == model.ChainStatusActive {
		return nil, chain.NewValidationError("该捐赠已完成上链")
	}
	if !donation.Amount.IsPositive() {
		return nil, chain.NewValidationError("捐赠金额必须大于0")
	}

	campaign, err := l.getCampaign(donation.CampaignId)
	if err != nil {
		return nil, err
	}
	if campaign.ChainStatus != model.ChainStatusActive || !campaign.HasChainIdentity() {
		return nil, chain.NewValidationError("关联活动尚未完成上链，无法捐赠")
	}

	if err := l.updateDonation(donation, map[string]interface{}{
		"chain_status":  model.ChainStatusPending,
		"error_message": "",
	}); err != nil {
		return nil, err
	}

	chainCampaignId := campaign.ChainCampaignId

	results := make(chan ChainResult, 1)
	if err := l.pool.Submit(func() {
		defer close(results)
		results <- l.runDonate(donationId, chainCampaignId)
	}); err != nil {
		l.markFailed(donationId, "链上任务队列已满，请稍后重试")
		return nil, fmt.Errorf("failed to submit chain task: %w", err)
	}

	return results, nil
}

// runDonate 依次提交授权与捐赠交易
func (l *DonationChainLogic) runDonate(donationId int64, chainCampaignId uint64) ChainResult {
	ctx := context.Background()

	donation, err := l.getDonation(donationId)
	if err != nil {
		return ChainResult{RecordId: donationId, Status: model.ChainStatusFailed, Err: err}
	}

	// 第一步：USDC授权
	approveHash, err := l.client.ApproveUSDC(ctx, donation.Amount)
	if err != nil {
		logger.Error("Failed to submit approve transaction (donation: %d): %v", donationId, err)
		l.markFailed(donationId, chain.Describe(err))
		return ChainResult{RecordId: donationId, Status: model.ChainStatusFailed, Err: err}
	}

	if err := l.updateDonation(donation, map[string]interface{}{
		"chain_status":             model.ChainStatusProcessing,
		"approve_transaction_hash": approveHash.Hex(),
		"error_message":            "",
	}); err != nil {
		logger.Error("Failed to record approve submission (donation: %d, tx: %s): %v",
			donationId, approveHash.Hex(), err)
		return ChainResult{RecordId: donationId, TxHash: approveHash.Hex(), Status: model.ChainStatusProcessing, Err: err}
	}

	approveReceipt, err := l.client.WaitForReceipt(ctx, approveHash.Hex())
	if err != nil {
		logger.Error("Failed to confirm approve transaction (donation: %d, tx: %s): %v",
			donationId, approveHash.Hex(), err)
		l.markFailed(donationId, chain.Describe(err))
		return ChainResult{RecordId: donationId, TxHash: approveHash.Hex(), Status: model.ChainStatusFailed, Err: err}
	}
	if approveReceipt.Status != types.ReceiptStatusSuccessful {
		message := fmt.Sprintf("USDC授权交易执行失败 (tx: %s)", approveHash.Hex())
		l.markFailed(donationId, message)
		return ChainResult{RecordId: donationId, TxHash: approveHash.Hex(), Status: model.ChainStatusFailed,
			Err: chain.NewContractError(message, nil)}
	}

	// 第二步：捐赠
	donateHash, err := l.client.Donate(ctx, chainCampaignId, donation.Amount)
	if err != nil {
		logger.Error("Failed to submit donate transaction (donation: %d): %v", donationId, err)
		l.markFailed(donationId, chain.Describe(err))
		return ChainResult{RecordId: donationId, TxHash: approveHash.Hex(), Status: model.ChainStatusFailed, Err: err}
	}

	if err := l.updateDonation(donation, map[string]interface{}{
		"transaction_hash": donateHash.Hex(),
	}); err != nil {
		logger.Error("Failed to record donate submission (donation: %d, tx: %s): %v",
			donationId, donateHash.Hex(), err)
		return ChainResult{RecordId: donationId, TxHash: donateHash.Hex(), Status: model.ChainStatusProcessing, Err: err}
	}

	receipt, err := l.client.WaitForReceipt(ctx, donateHash.Hex())
	if err != nil {
		logger.Error("Failed to confirm donate transaction (donation: %d, tx: %s): %v",
			donationId, donateHash.Hex(), err)
		l.markFailed(donationId, chain.Describe(err))
		return ChainResult{RecordId: donationId, TxHash: donateHash.Hex(), Status: model.ChainStatusFailed, Err: err}
	}

	return l.finishDonate(donationId, donateHash.Hex(), receipt)
}

// finishDonate 按捐赠确认结果落库，成功时同步累加活动本地金额
func (l *DonationChainLogic) finishDonate(donationId int64, txHash string, receipt *types.Receipt) ChainResult {
	donation, err := l.getDonation(donationId)
	if err != nil {
		return ChainResult{RecordId: donationId, TxHash: txHash, Status: model.ChainStatusFailed, Err: err}
	}

	if donation.ChainStatus == model.ChainStatusActive {
		return ChainResult{RecordId: donationId, TxHash: txHash, Status: model.ChainStatusActive}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		message := fmt.Sprintf("捐赠交易执行失败 (tx: %s)", txHash)
		l.markFailed(donationId, message)
		return ChainResult{RecordId: donationId, TxHash: txHash, Status: model.ChainStatusFailed,
			Err: chain.NewContractError(message, nil)}
	}

	if err := l.updateDonation(donation, map[string]interface{}{
		"chain_status":  model.ChainStatusActive,
		"error_message": "",
	}); err != nil {
		return ChainResult{RecordId: donationId, TxHash: txHash, Status: model.ChainStatusActive, Err: err}
	}

	// 本地累加仅作即时展示，权威金额由定时同步以链上数据覆盖
	if err := l.db.Model(&model.CampaignModel{}).
		Where("id = ?", donation.CampaignId).
		Update("current_amount", gorm.Expr("current_amount + ?", donation.Amount)).Error; err != nil {
		logger.Error("Failed to accumulate campaign amount (campaign: %d, donation: %d): %v",
			donation.CampaignId, donationId, err)
	}

	logger.Info("Donation confirmed on chain (donation: %d, tx: %s)", donationId, txHash)

	return ChainResult{RecordId: donationId, TxHash: txHash, Status: model.ChainStatusActive}
}

// getDonation 加载捐赠记录
func (l *DonationChainLogic) getDonation(donationId int64) (*model.DonationModel, error) {
	var donation model.DonationModel
	if err := l.db.First(&donation, donationId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, chain.NewValidationError("捐赠记录不存在")
		}
		return nil, fmt.Errorf("failed to load donation %d: %w", donationId, err)
	}
	return &donation, nil
}

// getCampaign 加载关联活动
func (l *DonationChainLogic) getCampaign(campaignId int64) (*model.CampaignModel, error) {
	var campaign model.CampaignModel
	if err := l.db.First(&campaign, campaignId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, chain.NewValidationError("关联活动不存在")
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", campaignId, err)
	}
	return &campaign, nil
}

// updateDonation 乐观锁更新
func (l *DonationChainLogic) updateDonation(donation *model.DonationModel, columns map[string]interface{}) error {
	columns["lock_version"] = donation.LockVersion + 1

	result := l.db.Model(&model.DonationModel{}).
		Where("id = ? AND lock_version = ?", donation.Id, donation.LockVersion).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update donation %d: %w", donation.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}

	donation.LockVersion++
	return nil
}

// markFailed 标记失败并记录可读错误描述
func (l *DonationChainLogic) markFailed(donationId int64, message string) {
	donation, err := l.getDonation(donationId)
	if err != nil {
		logger.Error("Failed to load donation %d for failure marking: %v", donationId, err)
		return
	}

	if err := l.updateDonation(donation, map[string]interface{}{
		"chain_status":  model.ChainStatusFailed,
		"error_message": message,
	}); err != nil {
		logger.Error("Failed to mark donation %d as failed: %v", donationId, err)
	}
}

// DonorNameByTxHash 按捐赠交易哈希反查捐赠人展示名
//
// 匿名捐赠或无匹配记录返回空字符串。
func (l *DonationChainLogic) DonorNameByTxHash(txHash string) (string, error) {
	var donation model.DonationModel
	err := l.db.Where("transaction_hash = ?", txHash).First(&donation).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up donation by tx hash %s: %w", txHash, err)
	}

	if donation.Anonymous || donation.DonorName == "" {
		return "", nil
	}

	return donation.DonorName, nil
}
