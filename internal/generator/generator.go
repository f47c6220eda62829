package generator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/knowledge"
	"AgentForge/internal/llm"
	"AgentForge/internal/tool"
	"AgentForge/pkg/logger"
)

// Result 是一次生成的产物：注册表记录与可执行实现。
type Result struct {
	Record   tool.Record
	Callable tool.Callable
}

// Generator 按两段策略合成新工具：
// 先请求 AI 后端产出蓝图，失败或超时静默回落到确定性模板。
// Generate 永不返回错误，总能给出可用工具。
type Generator struct {
	client    llm.Client
	provider  knowledge.Provider
	connector *directory.Connector
	registry  *tool.Registry
	templates []Template
	timeout   time.Duration
}

// Option 配置生成器的可选行为。
type Option func(*Generator)

// WithClient 指定 AI 后端客户端，缺省时只使用模板。
func WithClient(client llm.Client) Option {
	return func(g *Generator) { g.client = client }
}

// WithKnowledge 指定生成提示使用的知识库。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(g *Generator) { g.provider = provider }
}

// WithTemplates 覆盖内置回落模板。
func WithTemplates(templates []Template) Option {
	return func(g *Generator) {
		if len(templates) > 0 {
			g.templates = templates
		}
	}
}

// WithTimeout 限制单次 AI 调用时长。
func WithTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// New 创建生成器。connector 与 registry 为必选依赖。
func New(connector *directory.Connector, registry *tool.Registry, opts ...Option) *Generator {
	g := &Generator{
		connector: connector,
		registry:  registry,
		templates: DefaultTemplates(),
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate 为查询合成一个新工具并注册。
func (g *Generator) Generate(ctx context.Context, toolType, query string) Result {
	if toolType == "" {
		toolType = coordinator.TypeGenericQuery
	}

	blueprint, backend := g.produceBlueprint(ctx, toolType, query)
	name := g.resolveName(deriveName(query), query)

	record := tool.Record{
		Name:        name,
		Description: blueprint.Description,
		Origin:      tool.OriginGenerated,
		Backend:     backend,
		Query:       query,
		ToolType:    blueprint.ToolType,
		Category:    "generated",
		Blueprint:   blueprint,
	}

	if err := g.registry.Register(record); err != nil {
		// 名称已由 resolveName 保证合法，注册失败只可能是内部缺陷。
		logger.L().Error("注册生成工具失败", "tool", name, "error", err)
	}
	g.registry.CountGenerated()

	logger.Audit().Info("生成新工具",
		"tool", name,
		"tool_type", blueprint.ToolType,
		"backend", string(backend),
		"query", query,
	)

	return Result{Record: record, Callable: g.connector.Materialize(blueprint)}
}

// Rematerialize 为从快照恢复的记录重建可调用实现。
func (g *Generator) Rematerialize(blueprint *tool.Blueprint) tool.Callable {
	return g.connector.Materialize(blueprint)
}

// produceBlueprint 先尝试 AI 后端，失败时回落到模板。
func (g *Generator) produceBlueprint(ctx context.Context, toolType, query string) (*tool.Blueprint, tool.Backend) {
	if g.client != nil {
		blueprint, err := g.fromBackend(ctx, toolType, query)
		if err == nil {
			return blueprint, tool.BackendAI
		}
		g.registry.CountFailure()
		logger.L().Warn("AI 后端生成失败，回落到模板", "tool_type", toolType, "error", err)
	}
	return g.fromTemplate(toolType, query), tool.BackendFallback
}

func (g *Generator) fromBackend(ctx context.Context, toolType, query string) (*tool.Blueprint, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := llm.Request{Query: query, ToolType: toolType}
	if g.provider != nil {
		for _, snippet := range g.provider.Query(query, toolType) {
			req.Knowledge = append(req.Knowledge, llm.KnowledgeCard{
				Title:   snippet.Title,
				Content: snippet.Content,
			})
		}
	}

	resp, err := g.client.GenerateTool(callCtx, req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGenerationFailure, err, "调用 AI 后端失败")
	}

	var blueprint tool.Blueprint
	if err := json.Unmarshal([]byte(resp.Blueprint), &blueprint); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGenerationFailure, err, "蓝图不是合法 JSON")
	}
	if err := validateBlueprint(&blueprint); err != nil {
		return nil, err
	}
	return &blueprint, nil
}

// validateBlueprint 按窄契约校验蓝图，契约之外的内容一律拒绝。
func validateBlueprint(bp *tool.Blueprint) error {
	switch bp.ToolType {
	case coordinator.TypeDirectoryQuery, coordinator.TypeGenericQuery:
	default:
		return xerrors.New(xerrors.CodeGenerationFailure,
			fmt.Sprintf("未知工具类型: %q", bp.ToolType))
	}

	if strings.TrimSpace(bp.ResponseTemplate) == "" {
		return xerrors.New(xerrors.CodeGenerationFailure, "响应模板不能为空")
	}

	if bp.ToolType == coordinator.TypeDirectoryQuery {
		if strings.TrimSpace(bp.Filter) == "" {
			return xerrors.New(xerrors.CodeGenerationFailure, "目录查询蓝图缺少过滤器")
		}
		if err := directory.ValidateFilter(bp.Filter); err != nil {
			return xerrors.Wrap(xerrors.CodeGenerationFailure, err, "过滤器未通过编译")
		}
	}

	switch bp.Scope {
	case "", "base", "sub":
	default:
		return xerrors.New(xerrors.CodeGenerationFailure,
			fmt.Sprintf("未知搜索范围: %q", bp.Scope))
	}
	return nil
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// resolveName 处理与已有工具的重名：拒绝覆盖，改用 uuid 后缀派生新名。
func (g *Generator) resolveName(name, query string) string {
	if !namePattern.MatchString(name) {
		name = deriveName("generic query " + query)
	}
	if _, exists := g.registry.Get(name); !exists {
		return name
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s", name, suffix)
}

var nameStopwords = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "de": {}, "del": {}, "en": {},
	"que": {}, "cual": {}, "como": {}, "the": {}, "a": {}, "an": {}, "of": {},
	"in": {}, "to": {}, "for": {}, "me": {}, "my": {}, "is": {}, "are": {},
}

var nonNameChars = regexp.MustCompile(`[^a-z0-9_]`)

// deriveName 从查询派生 snake_case 工具名：
// get_<最多三个实义词>_<查询 md5 前 8 位>。
func deriveName(query string) string {
	normalized := coordinator.Normalize(query)

	var words []string
	for _, token := range strings.Fields(normalized) {
		cleaned := nonNameChars.ReplaceAllString(token, "")
		if cleaned == "" {
			continue
		}
		if _, stop := nameStopwords[cleaned]; stop {
			continue
		}
		words = append(words, cleaned)
		if len(words) == 3 {
			break
		}
	}
	if len(words) == 0 {
		words = []string{"generic", "tool"}
	}

	digest := md5.Sum([]byte(normalized))
	hash := hex.EncodeToString(digest[:])[:8]
	return fmt.Sprintf("get_%s_%s", strings.Join(words, "_"), hash)
}
