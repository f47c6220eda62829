package directory

import (
	"context"
	"testing"
	"time"

	"AgentForge/internal/tool"
)

var toolBlueprint = tool.Blueprint{
	ToolType:         "generic_query",
	ResponseTemplate: "已收到查询: {query}",
}

func TestBindUser(t *testing.T) {
	cases := map[string]string{
		"uid=jdoe,ou=people,dc=example,dc=com": "jdoe",
		"cn=admin,dc=example,dc=com":           "admin",
		"":                                     "",
	}
	for dn, want := range cases {
		conn := NewConnector(Config{BindDN: dn})
		if got := conn.BindUser(); got != want {
			t.Errorf("BindUser(%q) = %q, want %q", dn, got, want)
		}
	}
}

func TestGuessDepartment(t *testing.T) {
	cases := map[string]string{
		"users in department sales":          "sales",
		"usuarios del departamento ventas":   "ventas",
		"search users by department IT":      "IT",
		"usuarios de ventas":                 "ventas",
		"list users":                         "",
		"":                                   "",
	}
	for query, want := range cases {
		if got := GuessDepartment(query); got != want {
			t.Errorf("GuessDepartment(%q) = %q, want %q", query, got, want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	entry := Entry{
		DN: "uid=jdoe,dc=example,dc=com",
		Attributes: map[string][]string{
			"cn":   {"John Doe"},
			"mail": {"jdoe@example.com"},
		},
	}
	got := RenderTemplate("用户 {cn} <{mail}> 位于 {dn}，部门 {departmentNumber}", entry)
	want := "用户 John Doe <jdoe@example.com> 位于 uid=jdoe,dc=example,dc=com，部门 "
	if got != want {
		t.Fatalf("RenderTemplate = %q, want %q", got, want)
	}
}

func TestUnconfiguredToolsDegrade(t *testing.T) {
	conn := NewConnector(Config{Timeout: time.Second})
	ctx := context.Background()

	for _, bt := range append(BaseTools(conn), ProbeTools(conn)...) {
		payload, err := bt.Callable(ctx, "any query")
		if err != nil {
			t.Fatalf("%s returned error without configuration: %v", bt.Record.Name, err)
		}
		result, ok := payload.(map[string]any)
		if !ok {
			t.Fatalf("%s returned unexpected payload type %T", bt.Record.Name, payload)
		}
		if configured, ok := result["configured"].(bool); !ok || configured {
			t.Fatalf("%s did not degrade: %+v", bt.Record.Name, result)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	if err := ValidateFilter("(&(objectClass=inetOrgPerson)(uid=jdoe))"); err != nil {
		t.Fatalf("valid filter rejected: %v", err)
	}
	if err := ValidateFilter("(unclosed"); err == nil {
		t.Fatal("invalid filter accepted")
	}
	if err := ValidateFilter(""); err != nil {
		t.Fatalf("empty filter should be accepted: %v", err)
	}
}

func TestMaterializeGenericBlueprint(t *testing.T) {
	conn := NewConnector(Config{})
	callable := conn.Materialize(&toolBlueprint)

	payload, err := callable(context.Background(), "hola")
	if err != nil {
		t.Fatalf("generic blueprint returned error: %v", err)
	}
	result := payload.(map[string]any)
	if result["message"] != "已收到查询: hola" {
		t.Fatalf("unexpected message: %v", result["message"])
	}
}
