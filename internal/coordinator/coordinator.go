package coordinator

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	xerrors "AgentForge/internal/errors"
)

// Action 表示路由决策的类型。
type Action string

const (
	ActionExecute  Action = "execute"
	ActionGenerate Action = "generate"
)

// 工具类型取值。
const (
	TypeDirectoryQuery = "directory_query"
	TypeGenericQuery   = "generic_query"
)

// Decision 是一次路由的结果，只在本次查询内有效。
type Decision struct {
	Action   Action
	Tool     string
	ToolType string
	Query    string
}

// Trigger 将一组触发短语映射到一个工具。
type Trigger struct {
	Tool    string   `yaml:"tool"`
	Phrases []string `yaml:"phrases"`
}

// Coordinator 将自由文本查询路由到已有工具或生成请求。
// 触发表有序，短语越长优先级越高，长度相同按声明顺序取先。
type Coordinator struct {
	mu       sync.RWMutex
	triggers []normalizedTrigger
}

type normalizedTrigger struct {
	tool    string
	phrases []string
}

// New 创建协调器。triggers 为空时使用内置触发表。
func New(triggers []Trigger) *Coordinator {
	if len(triggers) == 0 {
		triggers = DefaultTriggers()
	}
	c := &Coordinator{}
	for _, trigger := range triggers {
		c.appendTrigger(trigger)
	}
	return c
}

func (c *Coordinator) appendTrigger(trigger Trigger) {
	normalized := normalizedTrigger{tool: trigger.Tool}
	for _, phrase := range trigger.Phrases {
		if folded := Normalize(phrase); folded != "" {
			normalized.phrases = append(normalized.phrases, folded)
		}
	}
	if normalized.tool != "" && len(normalized.phrases) > 0 {
		c.triggers = append(c.triggers, normalized)
	}
}

// Decide 对查询做出路由决策。相同输入总是得到相同输出。
func (c *Coordinator) Decide(query string) Decision {
	normalized := Normalize(query)
	if normalized == "" {
		return Decision{Action: ActionGenerate, ToolType: TypeGenericQuery, Query: ""}
	}

	c.mu.RLock()
	var (
		bestTool string
		bestLen  int
	)
	for _, trigger := range c.triggers {
		for _, phrase := range trigger.phrases {
			if !strings.Contains(normalized, phrase) {
				continue
			}
			if length := utf8.RuneCountInString(phrase); length > bestLen {
				bestLen = length
				bestTool = trigger.tool
			}
		}
	}
	c.mu.RUnlock()

	if bestTool != "" {
		return Decision{Action: ActionExecute, Tool: bestTool, Query: query}
	}

	return Decision{
		Action:   ActionGenerate,
		ToolType: classifyToolType(normalized),
		Query:    query,
	}
}

// RegisterTrigger 追加一条触发短语，让已生成的工具下次直接命中。
// 追加的触发排在内置触发之后，不会抢占已有短语。
func (c *Coordinator) RegisterTrigger(phrase, toolName string) error {
	folded := Normalize(phrase)
	if folded == "" || toolName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "触发短语与工具名称均不能为空")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.triggers {
		if c.triggers[i].tool == toolName {
			c.triggers[i].phrases = append(c.triggers[i].phrases, folded)
			return nil
		}
	}
	c.triggers = append(c.triggers, normalizedTrigger{tool: toolName, phrases: []string{folded}})
	return nil
}

// RemoveTrigger 删除指定工具的全部触发短语，重置时使用。
func (c *Coordinator) RemoveTrigger(toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.triggers[:0]
	for _, trigger := range c.triggers {
		if trigger.tool != toolName {
			kept = append(kept, trigger)
		}
	}
	c.triggers = kept
}

// directoryKeywords 是次级分类表：命中即归为目录查询类型。
var directoryKeywords = []string{
	"usuario", "user", "grupo", "group", "departamento", "department",
	"empleado", "employee", "ldap", "directorio", "directory", "quien", "who",
}

func classifyToolType(normalized string) string {
	for _, keyword := range directoryKeywords {
		if strings.Contains(normalized, keyword) {
			return TypeDirectoryQuery
		}
	}
	return TypeGenericQuery
}

// Normalize 统一查询文本：去首尾空白、转小写、折叠变音符号。
// "¿Quién soy?" 与 "quien soy" 归一后可以互相匹配。
func Normalize(query string) string {
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return ""
	}

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, lowered)
	if err != nil {
		return lowered
	}
	return folded
}
