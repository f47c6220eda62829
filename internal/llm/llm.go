package llm

import "context"

// Request 描述一次工具蓝图生成所需的上下文。
type Request struct {
	Query     string
	ToolType  string
	Knowledge []KnowledgeCard
}

// Response 是大模型返回的结构化输出。
// Blueprint 为 JSON 文本，由上层负责解析与校验。
type Response struct {
	Thought   string
	Blueprint string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的蓝图。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Client 定义了调用大模型生成工具蓝图的统一接口。
type Client interface {
	GenerateTool(ctx context.Context, req Request) (*Response, error)
}
