package task

import (
	"context"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
)

// ChainMonitorJob 处理中交易巡检任务
//
// 服务重启后滞留在processing状态的记录由该任务按收据实际状态补救。
type ChainMonitorJob struct {
	campaignLogic *logic.CampaignChainLogic
	interval      time.Duration
	stuckAfter    time.Duration
}

// NewChainMonitorJob 创建巡检任务
func NewChainMonitorJob(campaignLogic *logic.CampaignChainLogic, interval, stuckAfter time.Duration) *ChainMonitorJob {
	return &ChainMonitorJob{
		campaignLogic: campaignLogic,
		interval:      interval,
		stuckAfter:    stuckAfter,
	}
}

func (j *ChainMonitorJob) GetName() string {
	return "chain-monitor"
}

func (j *ChainMonitorJob) GetInterval() time.Duration {
	return j.interval
}

func (j *ChainMonitorJob) Execute(ctx context.Context) error {
	return j.campaignLogic.MonitorProcessing(ctx, j.stuckAfter)
}
