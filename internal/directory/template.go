package directory

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"AgentForge/internal/tool"
)

func escapeFilterValue(value string) string {
	return ldap.EscapeFilter(value)
}

var departmentPattern = regexp.MustCompile(
	`(?i)(?:department|departamento|dept|部门)\s+(?:of\s+|de\s+)?([\p{L}\p{N}_-]+)`)

// GuessDepartment 从自由文本查询中识别部门名称。
// 识别不到时返回空串，由调用方决定降级行为。
func GuessDepartment(query string) string {
	if match := departmentPattern.FindStringSubmatch(query); len(match) == 2 {
		return strings.TrimSpace(match[1])
	}

	// 兜底：取介词之后的实体词，覆盖 "usuarios de ventas" 这类说法。
	tokens := strings.Fields(strings.TrimSpace(query))
	for i := len(tokens) - 1; i > 0; i-- {
		prev := strings.Trim(strings.ToLower(tokens[i-1]), "?¿!¡.,;:")
		switch prev {
		case "de", "del", "of", "in", "en":
		default:
			continue
		}
		token := strings.Trim(tokens[i], "?¿!¡.,;:")
		switch strings.ToLower(token) {
		case "", "users", "usuarios", "user", "usuario", "department", "departamento", "部门":
			continue
		}
		return token
	}
	return ""
}

var fieldPattern = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// RenderTemplate 用条目属性替换模板中的 {field} 占位符。
// 缺失的字段替换为空串；{dn} 对应条目 DN；{count} 由调用方先行替换。
func RenderTemplate(template string, entry Entry) string {
	return fieldPattern.ReplaceAllStringFunc(template, func(match string) string {
		field := strings.Trim(match, "{}")
		if strings.EqualFold(field, "dn") {
			return entry.DN
		}
		return entry.First(field)
	})
}

// Materialize 根据蓝图构造可调用的工具实现。
// 这是生成工具唯一的物化路径，蓝图之外不存在任何动态行为。
func (c *Connector) Materialize(blueprint *tool.Blueprint) tool.Callable {
	bp := *blueprint
	return func(ctx context.Context, query string) (any, error) {
		if bp.Filter == "" || bp.ToolType != "directory_query" {
			// 通用蓝图不访问目录，直接渲染模板文本。
			message := strings.ReplaceAll(bp.ResponseTemplate, "{query}", query)
			return map[string]any{"message": message}, nil
		}

		if !c.Configured() {
			return c.degraded(), nil
		}

		filter := strings.ReplaceAll(bp.Filter, "{query}", escapeFilterValue(strings.TrimSpace(query)))
		entries, err := c.Search(ctx, SearchRequest{
			Scope:      bp.Scope,
			Filter:     filter,
			Attributes: bp.Attributes,
		})
		if err != nil {
			return nil, err
		}

		rendered := make([]string, 0, len(entries))
		for _, entry := range entries {
			rendered = append(rendered, RenderTemplate(bp.ResponseTemplate, entry))
		}
		return map[string]any{
			"count":   len(entries),
			"entries": entries,
			"summary": rendered,
		}, nil
	}
}
