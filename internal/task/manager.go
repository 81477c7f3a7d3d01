package task

import (
	"context"
	"fmt"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetInterval() time.Duration
	Execute(ctx context.Context) error
}

// Manager 定时任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	jobs      []Job
}

// NewManager 创建定时任务管理器
func NewManager() (*Manager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Manager{scheduler: scheduler}, nil
}

// Register 注册定时任务
func (m *Manager) Register(job Job) {
	m.jobs = append(m.jobs, job)
}

// Start 启动所有定时任务
//
// 单例模式保证同一任务不会并发执行，上一轮未结束时跳过本轮。
func (m *Manager) Start() error {
	for _, job := range m.jobs {
		job := job
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(job.GetInterval()),
			gocron.NewTask(func() {
				if err := job.Execute(context.Background()); err != nil {
					logger.Error("Task %s failed: %v", job.GetName(), err)
				}
			}),
			gocron.WithName(job.GetName()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", job.GetName(), err)
		}
		logger.Info("Task %s scheduled (interval: %s)", job.GetName(), job.GetInterval())
	}

	m.scheduler.Start()
	return nil
}

// Stop 停止所有定时任务
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
}
