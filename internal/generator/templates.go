package generator

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"

	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/tool"
)

// Template 是一条确定性的回落模板。
// Filter 中的 {entity} 占位符会替换为从查询中识别出的实体。
type Template struct {
	ToolType         string   `yaml:"tool_type"`
	Kind             string   `yaml:"kind"` // department | lookup | default
	Filter           string   `yaml:"filter"`
	Attributes       []string `yaml:"attributes"`
	Scope            string   `yaml:"scope"`
	ResponseTemplate string   `yaml:"response_template"`
	Description      string   `yaml:"description"`
}

// DefaultTemplates 返回内置回落模板库。
func DefaultTemplates() []Template {
	return []Template{
		{
			ToolType:         coordinator.TypeDirectoryQuery,
			Kind:             "department",
			Filter:           "(&(objectClass=inetOrgPerson)(departmentNumber={entity}))",
			Attributes:       []string{"cn", "uid", "mail", "departmentNumber"},
			Scope:            "sub",
			ResponseTemplate: "用户 {cn} <{mail}>",
			Description:      "按部门检索用户",
		},
		{
			ToolType:         coordinator.TypeDirectoryQuery,
			Kind:             "lookup",
			Filter:           "(&(objectClass=inetOrgPerson)(|(cn=*{entity}*)(uid=*{entity}*)))",
			Attributes:       []string{"cn", "uid", "mail", "title"},
			Scope:            "sub",
			ResponseTemplate: "用户 {cn} <{mail}>，职位 {title}",
			Description:      "按姓名或账号模糊检索用户",
		},
		{
			ToolType:         coordinator.TypeDirectoryQuery,
			Kind:             "default",
			Filter:           "(objectClass=inetOrgPerson)",
			Attributes:       []string{"cn", "uid", "mail"},
			Scope:            "sub",
			ResponseTemplate: "用户 {cn} <{mail}>",
			Description:      "列出目录用户",
		},
		{
			ToolType:         coordinator.TypeGenericQuery,
			Kind:             "default",
			ResponseTemplate: "已收到查询「{query}」，当前没有可用的数据来源，建议补充更具体的目录相关描述",
			Description:      "通用兜底回复",
		},
	}
}

// fromTemplate 从模板库构造蓝图，保证总能成功。
func (g *Generator) fromTemplate(toolType, query string) *tool.Blueprint {
	template := g.pickTemplate(toolType, query)

	entity := directory.GuessDepartment(query)
	if entity == "" {
		entity = firstMeaningfulToken(query)
	}

	filter := template.Filter
	if filter != "" {
		if entity == "" {
			// 没有实体可填时退回该类型的 default 模板。
			template = g.pickDefault(toolType)
			filter = template.Filter
		} else {
			filter = strings.ReplaceAll(filter, "{entity}", ldap.EscapeFilter(entity))
		}
	}

	return &tool.Blueprint{
		Description:      template.Description,
		ToolType:         template.ToolType,
		Filter:           filter,
		Attributes:       append([]string(nil), template.Attributes...),
		Scope:            template.Scope,
		ResponseTemplate: template.ResponseTemplate,
	}
}

func (g *Generator) pickTemplate(toolType, query string) Template {
	if toolType == coordinator.TypeDirectoryQuery {
		if directory.GuessDepartment(query) != "" {
			if t, ok := g.findTemplate(toolType, "department"); ok {
				return t
			}
		}
		if firstMeaningfulToken(query) != "" {
			if t, ok := g.findTemplate(toolType, "lookup"); ok {
				return t
			}
		}
	}
	return g.pickDefault(toolType)
}

func (g *Generator) pickDefault(toolType string) Template {
	if t, ok := g.findTemplate(toolType, "default"); ok {
		return t
	}
	// 模板库损坏时仍要保证有产出。
	return Template{
		ToolType:         coordinator.TypeGenericQuery,
		Kind:             "default",
		ResponseTemplate: "已收到查询「{query}」",
	}
}

func (g *Generator) findTemplate(toolType, kind string) (Template, bool) {
	for _, template := range g.templates {
		if template.ToolType == toolType && template.Kind == kind {
			return template, true
		}
	}
	return Template{}, false
}

var tokenStopwords = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "de": {}, "del": {}, "en": {},
	"que": {}, "quien": {}, "cual": {}, "como": {}, "dame": {}, "muestra": {},
	"lista": {}, "busca": {}, "the": {}, "a": {}, "an": {}, "of": {}, "in": {},
	"to": {}, "for": {}, "show": {}, "list": {}, "find": {}, "search": {},
	"get": {}, "me": {}, "my": {}, "all": {}, "todos": {}, "users": {},
	"usuarios": {}, "user": {}, "usuario": {},
}

func firstMeaningfulToken(query string) string {
	for _, token := range strings.Fields(coordinator.Normalize(query)) {
		cleaned := strings.Trim(token, "?¿!¡.,;:")
		if cleaned == "" {
			continue
		}
		if _, stop := tokenStopwords[cleaned]; stop {
			continue
		}
		return cleaned
	}
	return ""
}

type templatePack struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplatePack 从 YAML 文件加载回落模板扩展。
// 扩展模板排在内置模板之前，同类型同用途时优先生效。
func LoadTemplatePack(path string) ([]Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模板文件失败: %w", err)
	}

	var pack templatePack
	if err := yaml.Unmarshal(content, &pack); err != nil {
		return nil, fmt.Errorf("解析模板文件失败: %w", err)
	}

	for _, template := range pack.Templates {
		if template.ToolType == "" || template.ResponseTemplate == "" {
			return nil, fmt.Errorf("模板缺少 tool_type 或 response_template")
		}
	}
	return pack.Templates, nil
}

// TemplatesWithPack 组合 YAML 扩展与内置模板。
func TemplatesWithPack(path string) ([]Template, error) {
	templates := DefaultTemplates()
	if path == "" {
		return templates, nil
	}
	extra, err := LoadTemplatePack(path)
	if err != nil {
		return nil, err
	}
	return append(extra, templates...), nil
}
