package tool

import "context"

// Origin 表示工具的来源。
type Origin string

const (
	OriginBase      Origin = "base"
	OriginGenerated Origin = "generated"
)

// Backend 表示生成工具时使用的后端。基础工具为空。
type Backend string

const (
	BackendAI       Backend = "ai"
	BackendFallback Backend = "fallback-template"
)

// Record 描述注册表中的一条工具元数据。
type Record struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Origin      Origin     `json:"origin"`
	Backend     Backend    `json:"backend,omitempty"`
	Query       string     `json:"query,omitempty"`
	ToolType    string     `json:"tool_type"`
	Category    string     `json:"category,omitempty"`
	Blueprint   *Blueprint `json:"blueprint,omitempty"`
	CreatedAt   int64      `json:"created_at"`
	LastUsedAt  int64      `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
}

// Blueprint 是生成工具的声明式描述。
// 可调用对象只能由受控的构造器根据蓝图物化，不存在动态代码执行。
type Blueprint struct {
	Description      string   `json:"description,omitempty"`
	ToolType         string   `json:"tool_type"`
	Filter           string   `json:"filter,omitempty"`
	Attributes       []string `json:"attributes,omitempty"`
	Scope            string   `json:"scope,omitempty"`
	ResponseTemplate string   `json:"response_template"`
}

// Callable 是可执行的工具实现。
type Callable func(ctx context.Context, query string) (any, error)

// Counters 是跨会话累计的聚合计数。
type Counters struct {
	TotalQueries    int64 `json:"total_queries"`
	TotalGenerated  int64 `json:"total_generated"`
	TotalFailures   int64 `json:"total_failures"`
	ResetsPerformed int64 `json:"resets_performed"`
}

// State 是注册表的完整可持久化状态。
type State struct {
	Tools    []Record `json:"tools"`
	Counters Counters `json:"counters"`
}
