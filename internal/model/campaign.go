package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignModel 募捐活动模型
type CampaignModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null" binding:"required"`
	Description string `json:"description" gorm:"type:text"`

	// 募捐信息（本地金额为精确小数，最多6位小数）
	TargetAmount  decimal.Decimal `json:"target_amount" gorm:"type:numeric(20,6);not null"`
	CurrentAmount decimal.Decimal `json:"current_amount" gorm:"type:numeric(20,6);default:0"`

	// 时间信息
	StartTime time.Time `json:"start_time" gorm:"not null"`
	EndTime   time.Time `json:"end_time" gorm:"not null"`

	// 状态
	Status CampaignStatus `json:"status" gorm:"default:'active'"`

	// 受益人信息
	BeneficiaryAddress string `json:"beneficiary_address"`

	// 区块链信息
	ChainStatus     ChainStatus `json:"chain_status" gorm:"default:'none'"`
	TransactionHash string      `json:"transaction_hash"`  // 最后一次提交的交易哈希
	ContractAddress string      `json:"contract_address"`  // 链上部署的活动合约地址，确认成功后写入且不再变更
	ChainCampaignId uint64      `json:"chain_campaign_id"` // 合约内部的活动ID，与合约地址同时写入
	ErrorMessage    string      `json:"error_message"`     // 最后一次失败的可读描述

	// 乐观锁版本号
	LockVersion int64 `json:"-" gorm:"default:0"`
}

// CampaignStatus 活动业务状态
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"    // 进行中
	CampaignStatusCompleted CampaignStatus = "completed" // 已完成
	CampaignStatusCancelled CampaignStatus = "cancelled" // 已取消
)

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}

// HasChainIdentity 合约地址与链上活动ID是否已经写入
func (c *CampaignModel) HasChainIdentity() bool {
	return c.ContractAddress != "" && c.ChainCampaignId != 0
}

// Duration 活动时长（秒）
func (c *CampaignModel) Duration() int64 {
	return int64(c.EndTime.Sub(c.StartTime).Seconds())
}
