package model

// ChainStatus 链上注册状态
type ChainStatus string

const (
	ChainStatusNone       ChainStatus = "none"       // 未发起链上注册
	ChainStatusPending    ChainStatus = "pending"    // 待提交交易
	ChainStatusProcessing ChainStatus = "processing" // 交易已提交，等待确认
	ChainStatusActive     ChainStatus = "active"     // 链上注册完成
	ChainStatusFailed     ChainStatus = "failed"     // 链上注册失败
)

// IsInFlight 是否处于进行中状态
func (s ChainStatus) IsInFlight() bool {
	return s == ChainStatusPending || s == ChainStatusProcessing
}

// CanRetry 是否允许重试（仅失败状态可重试）
func (s ChainStatus) CanRetry() bool {
	return s == ChainStatusFailed
}
