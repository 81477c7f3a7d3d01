package task

import (
	"context"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
)

// CampaignSyncJob 链上状态同步任务
type CampaignSyncJob struct {
	syncLogic *logic.SyncLogic
	interval  time.Duration
}

// NewCampaignSyncJob 创建同步任务
func NewCampaignSyncJob(syncLogic *logic.SyncLogic, interval time.Duration) *CampaignSyncJob {
	return &CampaignSyncJob{
		syncLogic: syncLogic,
		interval:  interval,
	}
}

func (j *CampaignSyncJob) GetName() string {
	return "campaign-sync"
}

func (j *CampaignSyncJob) GetInterval() time.Duration {
	return j.interval
}

func (j *CampaignSyncJob) Execute(ctx context.Context) error {
	return j.syncLogic.ReconcileAll(ctx)
}
