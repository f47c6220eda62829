package orchestrator

import (
	"context"
	"sync"

	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/executor"
	"AgentForge/internal/generator"
	"AgentForge/internal/tool"
	"AgentForge/pkg/logger"
)

// Orchestrator 是面向调用方的会话门面：
// 接收自由文本查询，经路由决定执行已有工具或生成新工具后执行。
// 任何一类失败都不会终止会话，只有构造失败才是致命的。
type Orchestrator struct {
	coordinator *coordinator.Coordinator
	generator   *generator.Generator
	executor    *executor.Executor
	registry    *tool.Registry

	mu               sync.Mutex
	sessionQueries   int64
	sessionGenerated int64
}

// SessionStats 是当前会话的计数快照。
type SessionStats struct {
	QueriesProcessed int64 `json:"queries_processed"`
	ToolsGenerated   int64 `json:"tools_generated"`
}

// New 组装编排器并注册全部基础工具。
// baseTools 通常来自 directory.BaseTools 与 directory.ProbeTools；
// reset_system 在此注入，其实现就是本编排器的 Reset。
func New(
	coord *coordinator.Coordinator,
	gen *generator.Generator,
	exec *executor.Executor,
	registry *tool.Registry,
	baseTools []directory.BaseTool,
) (*Orchestrator, error) {
	o := &Orchestrator{
		coordinator: coord,
		generator:   gen,
		executor:    exec,
		registry:    registry,
	}

	for _, bt := range baseTools {
		if err := registry.Register(bt.Record); err != nil {
			return nil, err
		}
		exec.RegisterBase(bt.Record.Name, bt.Callable)
	}

	resetRecord := tool.Record{
		Name:        "reset_system",
		Description: "清除全部生成的工具，恢复到基础工具集",
		Origin:      tool.OriginBase,
		ToolType:    "generic_query",
		Category:    "system",
	}
	if err := registry.Register(resetRecord); err != nil {
		return nil, err
	}
	exec.RegisterBase("reset_system", o.resetTool)

	// 恢复快照中已有生成工具的可调用实现与触发短语。
	for _, record := range registry.List() {
		if record.Origin != tool.OriginGenerated || record.Blueprint == nil {
			continue
		}
		exec.AddDynamic(record.Name, gen.Rematerialize(record.Blueprint))
		if record.Query != "" {
			if err := coord.RegisterTrigger(record.Query, record.Name); err != nil {
				logger.L().Warn("恢复触发短语失败", "tool", record.Name, "error", err)
			}
		}
	}

	return o, nil
}

// Process 处理一条查询并返回调用结果。
func (o *Orchestrator) Process(ctx context.Context, query string) executor.InvocationResult {
	o.registry.CountQuery()
	o.mu.Lock()
	o.sessionQueries++
	o.mu.Unlock()

	decision := o.coordinator.Decide(query)

	var result executor.InvocationResult
	switch decision.Action {
	case coordinator.ActionExecute:
		result = o.executor.Invoke(ctx, decision.Tool, query)
	default:
		result = o.generateAndExecute(ctx, decision)
	}

	logger.Audit().Info("处理查询",
		"query", query,
		"action", string(decision.Action),
		"tool", result.Tool,
		"err", result.Err,
	)
	return result
}

func (o *Orchestrator) generateAndExecute(ctx context.Context, decision coordinator.Decision) executor.InvocationResult {
	generated := o.generator.Generate(ctx, decision.ToolType, decision.Query)
	o.executor.AddDynamic(generated.Record.Name, generated.Callable)

	if decision.Query != "" {
		if err := o.coordinator.RegisterTrigger(decision.Query, generated.Record.Name); err != nil {
			logger.L().Warn("注册触发短语失败", "tool", generated.Record.Name, "error", err)
		}
	}

	o.mu.Lock()
	o.sessionGenerated++
	o.mu.Unlock()

	return o.executor.Invoke(ctx, generated.Record.Name, decision.Query)
}

// Reset 移除全部生成工具并恢复基础工具集。
// 基础工具数量在任意次数的重置后保持不变。
func (o *Orchestrator) Reset() int {
	removed := 0
	for _, record := range o.registry.List() {
		if record.Origin == tool.OriginGenerated {
			o.coordinator.RemoveTrigger(record.Name)
			removed++
		}
	}

	o.executor.ClearDynamic()
	o.registry.Reset(false)

	logger.Audit().Info("执行系统重置", "removed_tools", removed)
	return removed
}

func (o *Orchestrator) resetTool(_ context.Context, _ string) (any, error) {
	removed := o.Reset()
	return map[string]any{
		"message":       "系统已重置，生成的工具已全部移除",
		"removed_tools": removed,
		"base_tools":    o.executor.BaseCount(),
	}, nil
}

// Session 返回当前会话计数。
func (o *Orchestrator) Session() SessionStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SessionStats{
		QueriesProcessed: o.sessionQueries,
		ToolsGenerated:   o.sessionGenerated,
	}
}

// BaseToolCount 返回基础工具数量。
func (o *Orchestrator) BaseToolCount() int {
	return o.executor.BaseCount()
}

// Registry 暴露底层注册表，供 API 层读取工具与统计。
func (o *Orchestrator) Registry() *tool.Registry {
	return o.registry
}
