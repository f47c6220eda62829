package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	xerrors "AgentForge/internal/errors"
)

// Config 描述目录服务连接参数。任何字段缺失都不是致命错误，
// 依赖目录的工具会降级为提示性回复。
type Config struct {
	ServerURL    string
	BaseDN       string
	BindDN       string
	BindPassword string
	Timeout      time.Duration
}

// Connector 封装 LDAP 连接的建立、绑定与搜索。
type Connector struct {
	cfg Config
}

// NewConnector 创建目录连接器。
func NewConnector(cfg Config) *Connector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Connector{cfg: cfg}
}

// Configured 判断是否具备访问目录所需的最小配置。
func (c *Connector) Configured() bool {
	return strings.TrimSpace(c.cfg.ServerURL) != ""
}

// BaseDN 返回配置的搜索基准 DN。
func (c *Connector) BaseDN() string {
	return c.cfg.BaseDN
}

// BindUser 从 BindDN 的首个 RDN 推断当前绑定用户标识。
func (c *Connector) BindUser() string {
	dn := strings.TrimSpace(c.cfg.BindDN)
	if dn == "" {
		return ""
	}
	first := strings.SplitN(dn, ",", 2)[0]
	if idx := strings.IndexRune(first, '='); idx >= 0 {
		return strings.TrimSpace(first[idx+1:])
	}
	return first
}

// BindDN 返回配置的绑定 DN。
func (c *Connector) BindDN() string {
	return c.cfg.BindDN
}

func (c *Connector) dial(ctx context.Context) (*ldap.Conn, error) {
	if !c.Configured() {
		return nil, xerrors.New(xerrors.CodeBackendUnavailable, "目录服务未配置")
	}

	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := ldap.DialURL(c.cfg.ServerURL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "连接目录服务失败")
	}
	conn.SetTimeout(c.cfg.Timeout)

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < c.cfg.Timeout {
			conn.SetTimeout(remaining)
		}
	}
	return conn, nil
}

// connect 建立连接并按配置完成绑定。
func (c *Connector) connect(ctx context.Context) (*ldap.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.cfg.BindDN) != "" {
		if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "目录绑定失败")
		}
	}
	return conn, nil
}

// SearchRequest 描述一次目录搜索。
type SearchRequest struct {
	BaseDN     string
	Scope      string // base | sub，默认 sub
	Filter     string
	Attributes []string
	SizeLimit  int
	// RootDSE 为 true 时使用空基准 DN 查询服务端根条目。
	RootDSE bool
}

// Entry 是搜索结果中的一个条目。
type Entry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

// First 返回属性的首个取值。
func (e Entry) First(name string) string {
	values := e.Attributes[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Search 执行目录搜索并返回标准化的条目。
func (c *Connector) Search(ctx context.Context, req SearchRequest) ([]Entry, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return search(conn, c.cfg.BaseDN, req)
}

// SearchAnonymous 不进行绑定直接搜索，用于匿名访问探测。
func (c *Connector) SearchAnonymous(ctx context.Context, req SearchRequest) ([]Entry, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.UnauthenticatedBind(""); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "匿名绑定失败")
	}
	return search(conn, c.cfg.BaseDN, req)
}

// StartTLSSupported 探测服务端是否接受 StartTLS 升级。
func (c *Connector) StartTLSSupported(ctx context.Context) (bool, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: true}); err != nil {
		return false, nil
	}
	return true, nil
}

func search(conn *ldap.Conn, defaultBase string, req SearchRequest) ([]Entry, error) {
	base := req.BaseDN
	if base == "" && !req.RootDSE {
		base = defaultBase
	}

	scope := ldap.ScopeWholeSubtree
	if strings.EqualFold(req.Scope, "base") {
		scope = ldap.ScopeBaseObject
	}

	filter := strings.TrimSpace(req.Filter)
	if filter == "" {
		filter = "(objectClass=*)"
	}
	if _, err := ldap.CompileFilter(filter); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("非法过滤器: %s", filter))
	}

	sizeLimit := req.SizeLimit
	if sizeLimit <= 0 {
		sizeLimit = 200
	}

	searchReq := ldap.NewSearchRequest(
		base,
		scope,
		ldap.NeverDerefAliases,
		sizeLimit,
		0,
		false,
		filter,
		req.Attributes,
		nil,
	)

	result, err := conn.Search(searchReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "目录搜索失败")
	}

	entries := make([]Entry, 0, len(result.Entries))
	for _, raw := range result.Entries {
		entry := Entry{DN: raw.DN, Attributes: make(map[string][]string, len(raw.Attributes))}
		for _, attr := range raw.Attributes {
			entry.Attributes[attr.Name] = append([]string(nil), attr.Values...)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ValidateFilter 校验过滤器语法，供蓝图校验复用。
func ValidateFilter(filter string) error {
	if strings.TrimSpace(filter) == "" {
		return nil
	}
	if _, err := ldap.CompileFilter(filter); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "过滤器语法错误")
	}
	return nil
}
