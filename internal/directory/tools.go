package directory

import (
	"context"
	"fmt"
	"sort"

	"AgentForge/internal/tool"
)

// BaseTool 将一条注册表记录与其可调用实现捆绑。
type BaseTool struct {
	Record   tool.Record
	Callable tool.Callable
}

// BaseTools 返回内置的目录基础工具集。
// reset_system 由编排层注入，不在此列表中。
func BaseTools(conn *Connector) []BaseTool {
	return []BaseTool{
		{
			Record: tool.Record{
				Name:        "get_current_user_info",
				Description: "查询当前绑定用户的目录信息",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "identity",
			},
			Callable: conn.currentUserInfo,
		},
		{
			Record: tool.Record{
				Name:        "get_user_groups",
				Description: "查询当前绑定用户所属的组",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "identity",
			},
			Callable: conn.userGroups,
		},
		{
			Record: tool.Record{
				Name:        "list_all_users",
				Description: "列出目录中的全部用户",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "enumeration",
			},
			Callable: conn.listAllUsers,
		},
		{
			Record: tool.Record{
				Name:        "search_users_by_department",
				Description: "按部门搜索用户",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "enumeration",
			},
			Callable: conn.usersByDepartment,
		},
		{
			Record: tool.Record{
				Name:        "analyze_ldap_structure",
				Description: "统计目录结构中各对象类的分布",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "analysis",
			},
			Callable: conn.analyzeStructure,
		},
	}
}

// ProbeTools 返回目录服务探测工具集。
func ProbeTools(conn *Connector) []BaseTool {
	return []BaseTool{
		{
			Record: tool.Record{
				Name:        "tool_rootdse_info",
				Description: "读取 RootDSE 获取服务端能力信息",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "probe",
			},
			Callable: conn.rootDSEInfo,
		},
		{
			Record: tool.Record{
				Name:        "tool_anonymous_enum",
				Description: "探测目录是否允许匿名枚举",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "probe",
			},
			Callable: conn.anonymousEnum,
		},
		{
			Record: tool.Record{
				Name:        "tool_starttls_test",
				Description: "探测服务端是否支持 StartTLS",
				Origin:      tool.OriginBase,
				ToolType:    "directory_query",
				Category:    "probe",
			},
			Callable: conn.startTLSTest,
		},
	}
}

func (c *Connector) degraded() any {
	return map[string]any{
		"configured": false,
		"message":    "目录服务未配置，请设置 LDAP_SERVER、LDAP_BASE_DN 等环境变量后重试",
	}
}

func (c *Connector) currentUserInfo(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	user := c.BindUser()
	if user == "" {
		return map[string]any{
			"configured": true,
			"message":    "未配置绑定用户，无法定位当前身份",
		}, nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		Filter:     fmt.Sprintf("(|(uid=%s)(cn=%s))", escapeFilterValue(user), escapeFilterValue(user)),
		Attributes: []string{"cn", "uid", "mail", "title", "departmentNumber"},
		SizeLimit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return map[string]any{
			"configured": true,
			"message":    fmt.Sprintf("目录中找不到用户 %s", user),
		}, nil
	}
	return entries[0], nil
}

func (c *Connector) userGroups(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		Filter:     fmt.Sprintf("(&(objectClass=groupOfNames)(member=%s))", escapeFilterValue(c.BindDN())),
		Attributes: []string{"cn", "description"},
	})
	if err != nil {
		return nil, err
	}

	groups := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := entry.First("cn"); name != "" {
			groups = append(groups, name)
		}
	}
	return map[string]any{"user": c.BindUser(), "groups": groups}, nil
}

func (c *Connector) listAllUsers(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		Filter:     "(objectClass=inetOrgPerson)",
		Attributes: []string{"cn", "uid", "mail"},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(entries), "users": entries}, nil
}

func (c *Connector) usersByDepartment(ctx context.Context, query string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	department := GuessDepartment(query)
	if department == "" {
		return map[string]any{
			"message": "无法从查询中识别部门名称，请在查询中写明部门",
		}, nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		Filter: fmt.Sprintf("(&(objectClass=inetOrgPerson)(departmentNumber=%s))",
			escapeFilterValue(department)),
		Attributes: []string{"cn", "uid", "mail", "departmentNumber"},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"department": department, "count": len(entries), "users": entries}, nil
}

func (c *Connector) analyzeStructure(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		Filter:     "(objectClass=*)",
		Attributes: []string{"objectClass"},
		SizeLimit:  500,
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, entry := range entries {
		for _, class := range entry.Attributes["objectClass"] {
			counts[class]++
		}
	}

	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	distribution := make([]map[string]any, 0, len(classes))
	for _, class := range classes {
		distribution = append(distribution, map[string]any{"object_class": class, "count": counts[class]})
	}
	return map[string]any{"entries": len(entries), "distribution": distribution}, nil
}

func (c *Connector) rootDSEInfo(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	entries, err := c.Search(ctx, SearchRequest{
		RootDSE: true,
		Scope:   "base",
		Filter:  "(objectClass=*)",
		Attributes: []string{
			"namingContexts",
			"supportedLDAPVersion",
			"supportedSASLMechanisms",
			"vendorName",
			"vendorVersion",
		},
		SizeLimit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return map[string]any{"message": "服务端未返回 RootDSE 信息"}, nil
	}
	return entries[0], nil
}

func (c *Connector) anonymousEnum(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	entries, err := c.SearchAnonymous(ctx, SearchRequest{
		Filter:     "(objectClass=*)",
		Attributes: []string{"dn"},
		SizeLimit:  10,
	})
	if err != nil {
		return map[string]any{"anonymous_access": false, "detail": err.Error()}, nil
	}
	return map[string]any{"anonymous_access": true, "visible_entries": len(entries)}, nil
}

func (c *Connector) startTLSTest(ctx context.Context, _ string) (any, error) {
	if !c.Configured() {
		return c.degraded(), nil
	}

	supported, err := c.StartTLSSupported(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"starttls_supported": supported}, nil
}
