package task

import (
	"context"
	"errors"
	"log/slog"

	"AgentForge/internal/executor"
	"AgentForge/internal/observability/alerting"
	"AgentForge/internal/observability/metrics"
	"AgentForge/pkg/logger"
)

// Runner 执行一条自然语言查询并返回调用结果。
// *orchestrator.Orchestrator 满足该接口。
type Runner interface {
	Process(ctx context.Context, query string) executor.InvocationResult
}

// Processor 消费队列中的任务 ID 并驱动 Runner 执行。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	alerter     alerting.Dispatcher
}

// ProcessorOption 配置 Processor。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置并发工作协程数量。
func WithWorkerCount(count int) ProcessorOption {
	return func(p *Processor) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithAlertDispatcher 设置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 创建任务处理器。
func NewProcessor(runner Runner, store Store, queue Queue, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    queue,
		producer:    queue,
		workerCount: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 阻塞消费队列，直到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	logger.L().Info("任务处理器启动", slog.Int("worker_count", p.workerCount))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 处理单条任务。队列层面的重投递只在存储写入失败时发生，
// 工具层面的失败视为任务成功完成。
func (p *Processor) handle(ctx context.Context, msg Message) error {
	task, err := p.store.Claim(ctx, msg.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrTaskCompleted), errors.Is(err, ErrTaskConflict):
			return nil
		case errors.Is(err, ErrTaskExhausted):
			p.alert(ctx, msg.ID, err)
			if markErr := p.store.MarkFailed(ctx, msg.ID, CodeTaskExhausted, "重试次数耗尽", true); markErr != nil {
				logger.L().Error("标记任务终态失败", slog.String("task_id", msg.ID), slog.String("error", markErr.Error()))
			}
			return nil
		default:
			logger.L().Error("认领任务失败", slog.String("task_id", msg.ID), slog.String("error", err.Error()))
			return err
		}
	}

	r := p.runner.Process(ctx, task.Query)
	metrics.ObserveQuery(r.Origin, r.Err)

	result := Result{
		Tool:    r.Tool,
		Origin:  r.Origin,
		Failed:  r.Err,
		Payload: r.Payload,
		Message: r.Message,
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		logger.L().Error("记录任务结果失败",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
		if markErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); markErr != nil {
			logger.L().Error("回滚任务状态失败", slog.String("task_id", task.ID), slog.String("error", markErr.Error()))
		}
		if pubErr := p.producer.Publish(ctx, Message{ID: task.ID, Query: task.Query, Attempt: task.Attempts}); pubErr != nil {
			p.alert(ctx, task.ID, pubErr)
		}
		return err
	}

	logger.Audit().Info("task processed",
		slog.String("task_id", task.ID),
		slog.String("tool", r.Tool),
		slog.Bool("failed", r.Err))
	return nil
}

func (p *Processor) alert(ctx context.Context, taskID string, err error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError("task-processor", err)
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["task_id"] = taskID
	if notifyErr := p.alerter.Notify(ctx, event); notifyErr != nil {
		logger.L().Error("告警发送失败", slog.String("error", notifyErr.Error()))
	}
}
