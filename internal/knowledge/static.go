package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(query, toolType string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// DefaultProvider 返回内置的目录查询知识库。
// 条目覆盖常见的 LDAP 对象类、属性命名以及过滤器写法。
func DefaultProvider(maxResults int) *StaticProvider {
	return NewStaticProvider(builtinSnippets, maxResults)
}

// Query 根据用户查询与工具类型进行简单匹配。
func (p *StaticProvider) Query(query, toolType string) []Snippet {
	if p == nil {
		return nil
	}

	query = strings.ToLower(strings.TrimSpace(query))
	toolType = strings.ToLower(strings.TrimSpace(toolType))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, query, toolType) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, query, toolType string) bool {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if normalized == toolType {
			return true
		}
	}
	return false
}

var builtinSnippets = []Snippet{
	{
		Title:    "用户对象",
		Content:  "用户条目通常使用 objectClass inetOrgPerson，常用属性包括 cn、uid、mail、departmentNumber、title。",
		Keywords: []string{"user", "usuario", "用户", "person", "quien", "quién"},
		Tags:     []string{"directory_query"},
	},
	{
		Title:    "组对象",
		Content:  "组条目通常使用 objectClass groupOfNames，成员通过 member 属性引用用户 DN。",
		Keywords: []string{"group", "grupo", "组", "member", "membership"},
		Tags:     []string{"directory_query"},
	},
	{
		Title:    "部门过滤",
		Content:  "按部门筛选用户可使用 (&(objectClass=inetOrgPerson)(departmentNumber=VALUE)) 形式的过滤器。",
		Keywords: []string{"department", "departamento", "部门"},
		Tags:     []string{"directory_query"},
	},
	{
		Title:    "RootDSE",
		Content:  "RootDSE 通过 base 范围的空过滤查询获取，包含 namingContexts、supportedLDAPVersion、supportedSASLMechanisms 等属性。",
		Keywords: []string{"rootdse", "naming", "server info", "服务器"},
		Tags:     []string{"directory_query", "generic_query"},
	},
	{
		Title:    "过滤器语法",
		Content:  "LDAP 过滤器由括号包裹，支持 &、|、! 组合以及 = 、>=、<=、~= 比较，如 (|(cn=a*)(uid=a*))。",
		Keywords: []string{"filter", "filtro", "search", "busca", "查询"},
		Tags:     []string{"directory_query", "generic_query"},
	},
}
