package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentForge/internal/errors"
	"AgentForge/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	maxQueryLength     = 2000
)

// Service 封装任务的创建、查询与投递逻辑。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
}

// ServiceOption 配置 Service。
type ServiceOption func(*Service)

// WithMaxAttempts 设置新任务允许的最大处理次数。
func WithMaxAttempts(attempts int) ServiceOption {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// NewService 创建任务服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{store: store, producer: producer, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit 校验查询内容，创建任务并投递到队列。
func (s *Service) Submit(ctx context.Context, query string) (*Task, error) {
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLength {
		return nil, xerrors.New(CodeTaskValidation, "查询内容超出长度限制")
	}

	task := &Task{
		ID:          uuid.NewString(),
		Query:       query,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}

	if err := s.producer.Publish(ctx, Message{ID: task.ID, Query: task.Query}); err != nil {
		markErr := s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, err.Error(), true)
		if markErr != nil {
			logger.L().Error("记录任务投递失败状态出错",
				slog.String("task_id", task.ID),
				slog.String("error", markErr.Error()))
		}
		return nil, xerrors.Wrap(CodeTaskPublish, err, "任务投递失败")
	}

	logger.Audit().Info("task submitted",
		slog.String("task_id", task.ID),
		slog.Int("query_length", len(query)))
	return task, nil
}

// Get 返回任务详情。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务 ID 不能为空")
	}
	return s.store.Get(ctx, id)
}

// List 返回最近创建的任务。
func (s *Service) List(ctx context.Context, limit int) ([]*Task, error) {
	return s.store.List(ctx, limit)
}

// Stats 返回任务状态统计。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// WaitUntilCompleted 轮询任务直到其进入终态或上下文取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status == StatusSucceeded || task.Status == StatusFailed {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭底层的存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
