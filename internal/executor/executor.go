package executor

import (
	"context"
	"fmt"
	"sync"

	"AgentForge/internal/tool"
	"AgentForge/pkg/logger"
)

// InvocationResult 是一次工具调用的结果。
// 调用失败同样以数据形式返回，绝不向上抛出。
type InvocationResult struct {
	Err     bool   `json:"err"`
	Tool    string `json:"tool"`
	Origin  string `json:"origin,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Executor 负责安全地调用基础工具与动态生成的工具。
type Executor struct {
	mu       sync.RWMutex
	base     map[string]tool.Callable
	dynamic  map[string]tool.Callable
	registry *tool.Registry
}

// New 创建执行器。
func New(registry *tool.Registry) *Executor {
	return &Executor{
		base:     make(map[string]tool.Callable),
		dynamic:  make(map[string]tool.Callable),
		registry: registry,
	}
}

// RegisterBase 注册一个基础工具实现。
func (e *Executor) RegisterBase(name string, callable tool.Callable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base[name] = callable
}

// AddDynamic 注册一个生成工具实现。
func (e *Executor) AddDynamic(name string, callable tool.Callable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dynamic[name] = callable
}

// ClearDynamic 清空全部生成工具，重置时使用。
func (e *Executor) ClearDynamic() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dynamic = make(map[string]tool.Callable)
}

// BaseCount 返回基础工具数量。
func (e *Executor) BaseCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.base)
}

// DynamicCount 返回生成工具数量。
func (e *Executor) DynamicCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.dynamic)
}

// Invoke 调用指定工具。先查基础集合，再查动态集合。
// 工具内部的 panic 被捕获并转换为失败结果。
func (e *Executor) Invoke(ctx context.Context, name, query string) InvocationResult {
	e.mu.RLock()
	callable, origin := e.lookup(name)
	e.mu.RUnlock()

	if callable == nil {
		return InvocationResult{Err: true, Tool: name, Message: "tool not found"}
	}

	result := e.invoke(ctx, name, origin, callable, query)

	// 调用无论成败都计入使用统计。
	if e.registry != nil {
		e.registry.RecordInvocation(name)
	}
	return result
}

func (e *Executor) lookup(name string) (tool.Callable, string) {
	if callable, ok := e.base[name]; ok {
		return callable, string(tool.OriginBase)
	}
	if callable, ok := e.dynamic[name]; ok {
		return callable, string(tool.OriginGenerated)
	}
	return nil, ""
}

func (e *Executor) invoke(ctx context.Context, name, origin string, callable tool.Callable, query string) (result InvocationResult) {
	defer func() {
		if cause := recover(); cause != nil {
			logger.L().Error("工具执行发生 panic", "tool", name, "cause", cause)
			result = InvocationResult{
				Err:     true,
				Tool:    name,
				Origin:  origin,
				Message: fmt.Sprintf("tool panicked: %v", cause),
			}
		}
	}()

	payload, err := callable(ctx, query)
	if err != nil {
		return InvocationResult{Err: true, Tool: name, Origin: origin, Message: err.Error()}
	}
	return InvocationResult{Tool: name, Origin: origin, Payload: payload}
}
