package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationModel 捐赠记录
type DonationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId int64 `json:"campaign_id" gorm:"not null;index"`

	// 捐赠人信息
	DonorAddress string `json:"donor_address" gorm:"not null"`
	DonorName    string `json:"donor_name"`
	Anonymous    bool   `json:"anonymous" gorm:"default:false"`

	// 金额（精确小数，最多6位小数）
	Amount decimal.Decimal `json:"amount" gorm:"type:numeric(20,6);not null"`

	// 区块链信息（哈希在提交前为空，不做唯一约束）
	ChainStatus            ChainStatus `json:"chain_status" gorm:"default:'none'"`
	ApproveTransactionHash string      `json:"approve_transaction_hash"`      // USDC授权交易哈希
	TransactionHash        string      `json:"transaction_hash" gorm:"index"` // 捐赠交易哈希
	ErrorMessage           string      `json:"error_message"`

	// 乐观锁版本号
	LockVersion int64 `json:"-" gorm:"default:0"`
}

// TableName 自定义表名
func (DonationModel) TableName() string {
	return "donation"
}
