package logic

import (
	"context"
	"fmt"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"gorm.io/gorm"
)

// SyncLogic 链上状态同步
//
// 链上数据是金额与完结状态的权威来源，定时将其覆盖回本地记录。
// 链上读取失败只记录日志，不改动本地状态。
type SyncLogic struct {
	db      *gorm.DB
	client  ChainClient
	decoder *chain.EventDecoder
}

// NewSyncLogic 创建链上状态同步
func NewSyncLogic(db *gorm.DB, client ChainClient, decoder *chain.EventDecoder) *SyncLogic {
	return &SyncLogic{
		db:      db,
		client:  client,
		decoder: decoder,
	}
}

// Reconcile 同步单个活动
//
// 仅同步链上状态为active且已写入链上标识的活动。
func (l *SyncLogic) Reconcile(ctx context.Context, campaignId int64) error {
	var campaign model.CampaignModel
	if err := l.db.First(&campaign, campaignId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return chain.NewValidationError("活动不存在")
		}
		return fmt.Errorf("failed to load campaign %d: %w", campaignId, err)
	}

	return l.reconcileCampaign(ctx, &campaign)
}

// ReconcileAll 同步所有满足条件的活动
//
// 单个活动同步失败不中断整体流程。
func (l *SyncLogic) ReconcileAll(ctx context.Context) error {
	var campaigns []model.CampaignModel
	if err := l.db.Where("chain_status = ?", model.ChainStatusActive).Find(&campaigns).Error; err != nil {
		return fmt.Errorf("failed to query active campaigns: %w", err)
	}

	synced := 0
	for i := range campaigns {
		if err := l.reconcileCampaign(ctx, &campaigns[i]); err != nil {
			logger.Warn("Failed to reconcile campaign %d: %v", campaigns[i].Id, err)
			continue
		}
		synced++
	}

	logger.Info("Chain state reconciliation finished (total: %d, synced: %d)", len(campaigns), synced)
	return nil
}

// reconcileCampaign 以链上状态覆盖单条本地记录
func (l *SyncLogic) reconcileCampaign(ctx context.Context, campaign *model.CampaignModel) error {
	if campaign.ChainStatus != model.ChainStatusActive || !campaign.HasChainIdentity() {
		return nil
	}

	state, err := l.client.GetCampaign(ctx, campaign.ChainCampaignId)
	if err != nil {
		// 读取失败不改动本地状态
		return fmt.Errorf("failed to read chain state for campaign %d: %w", campaign.Id, err)
	}
	if !state.Exists {
		logger.Warn("Campaign %d (chain id: %d) not found on chain, local state left untouched",
			campaign.Id, campaign.ChainCampaignId)
		return nil
	}

	columns := map[string]interface{}{
		"current_amount": state.TotalRaisedUSDC(),
	}
	if state.Finalized && campaign.Status != model.CampaignStatusCompleted {
		columns["status"] = model.CampaignStatusCompleted
	}

	columns["lock_version"] = campaign.LockVersion + 1
	result := l.db.Model(&model.CampaignModel{}).
		Where("id = ? AND lock_version = ?", campaign.Id, campaign.LockVersion).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update campaign %d: %w", campaign.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		// 并发修改，留待下一轮同步
		return nil
	}
	campaign.LockVersion++

	logger.Debug("Campaign %d reconciled from chain (raised: %s, finalized: %v)",
		campaign.Id, state.TotalRaisedUSDC().String(), state.Finalized)
	return nil
}

// CampaignTransactions 列出活动合约的链上事件
//
// 直接查询合约事件日志并解码，供交易明细展示使用。
func (l *SyncLogic) CampaignTransactions(ctx context.Context, campaignId int64) ([]chain.Event, error) {
	var campaign model.CampaignModel
	if err := l.db.First(&campaign, campaignId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, chain.NewValidationError("活动不存在")
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", campaignId, err)
	}

	if !campaign.HasChainIdentity() {
		return nil, chain.NewValidationError("活动缺少链上标识，无法查询链上交易")
	}

	logs, err := l.client.QueryCampaignLogs(ctx, campaign.ContractAddress)
	if err != nil {
		return nil, err
	}

	return l.decoder.DecodeAll(logs), nil
}
