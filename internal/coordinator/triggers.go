package coordinator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTriggers 返回内置触发表。
// 短语沿用了西语/英语两套说法，顺序即优先级声明顺序。
func DefaultTriggers() []Trigger {
	return []Trigger{
		{
			Tool: "get_current_user_info",
			Phrases: []string{
				"quien soy", "who am i", "mi usuario", "my user",
				"usuario actual", "current user",
			},
		},
		{
			Tool: "get_user_groups",
			Phrases: []string{
				"mis grupos", "my groups", "grupos del usuario", "user groups",
				"a que grupos", "which groups",
			},
		},
		{
			Tool: "reset_system",
			Phrases: []string{
				"reset", "reinicia", "reiniciar", "restart",
				"limpiar sistema", "clean system",
			},
		},
		{
			Tool: "list_all_users",
			Phrases: []string{
				"todos los usuarios", "lista de usuarios", "listar usuarios",
				"all users", "list users", "list all users",
			},
		},
		{
			Tool: "search_users_by_department",
			Phrases: []string{
				"usuarios del departamento", "por departamento",
				"users by department", "in department", "usuarios de",
			},
		},
		{
			Tool: "analyze_ldap_structure",
			Phrases: []string{
				"analiza la estructura", "estructura del directorio",
				"analyze structure", "directory structure", "analiza ldap",
			},
		},
		{
			Tool: "tool_rootdse_info",
			Phrases: []string{
				"rootdse", "informacion del servidor", "server info",
				"capacidades del servidor",
			},
		},
		{
			Tool: "tool_anonymous_enum",
			Phrases: []string{
				"acceso anonimo", "anonymous access", "enumeracion anonima",
				"anonymous enum",
			},
		},
		{
			Tool: "tool_starttls_test",
			Phrases: []string{
				"starttls", "prueba tls", "tls test", "soporta tls",
			},
		},
	}
}

type triggerPack struct {
	Triggers []Trigger `yaml:"triggers"`
}

// LoadTriggerPack 从 YAML 文件加载触发表扩展。
// 返回的触发项追加在内置触发表之后。
func LoadTriggerPack(path string) ([]Trigger, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取触发表文件失败: %w", err)
	}

	var pack triggerPack
	if err := yaml.Unmarshal(content, &pack); err != nil {
		return nil, fmt.Errorf("解析触发表文件失败: %w", err)
	}

	for _, trigger := range pack.Triggers {
		if trigger.Tool == "" {
			return nil, fmt.Errorf("触发表中存在未命名工具的条目")
		}
	}
	return pack.Triggers, nil
}

// NewWithPack 组合内置触发表与可选的 YAML 扩展。
func NewWithPack(path string) (*Coordinator, error) {
	triggers := DefaultTriggers()
	if path != "" {
		extra, err := LoadTriggerPack(path)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, extra...)
	}
	return New(triggers), nil
}
