package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/orchestrator"
	"AgentForge/internal/task"
	"AgentForge/pkg/logger"
)

// Server 暴露编排器与任务服务的 HTTP 接口。
type Server struct {
	orch   *orchestrator.Orchestrator
	tasks  *task.Service
	token  string
	mux    *http.ServeMux
	server *http.Server
}

// Option 配置 Server。
type Option func(*Server)

// WithTaskService 启用异步任务接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithToken 启用静态 Bearer Token 鉴权。
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// NewServer 创建 API 服务。
func NewServer(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.Handle("POST /api/v1/queries", s.protected("queries", s.handleQuery))
	s.mux.Handle("GET /api/v1/tools", s.protected("tools", s.handleListTools))
	s.mux.Handle("GET /api/v1/stats", s.protected("stats", s.handleStats))
	s.mux.Handle("POST /api/v1/reset", s.protected("reset", s.handleReset))

	s.mux.Handle("POST /api/v1/tasks", s.protected("tasks", s.handleSubmitTask))
	s.mux.Handle("GET /api/v1/tasks", s.protected("tasks", s.handleListTasks))
	s.mux.Handle("GET /api/v1/tasks/{id}", s.protected("task", s.handleGetTask))
}

// Handler 返回可直接挂载的 http.Handler，测试时使用。
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start 启动监听并阻塞到上下文取消。
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.L().Info("API 服务启动", "address", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// protected 组合鉴权与指标中间件。
func (s *Server) protected(name string, next http.HandlerFunc) http.Handler {
	return s.withMetrics(name, s.withAuth(next))
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, xerrors.CodeInvalidArgument, "访问令牌无效")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体不是合法的 JSON")
		return
	}

	result := s.orch.Process(r.Context(), req.Query)
	metrics.ObserveQuery(result.Origin, result.Err)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.orch.Registry().List()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"registry": s.orch.Registry().Stats(),
		"session":  s.orch.Session(),
	}
	if s.tasks != nil {
		stats, err := s.tasks.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), "统计任务失败")
			return
		}
		payload["tasks"] = stats
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	removed := s.orch.Reset()
	writeJSON(w, http.StatusOK, map[string]any{
		"removed_tools": removed,
		"base_tools":    s.orch.BaseToolCount(),
	})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusNotImplemented, xerrors.CodeUnknown, "任务服务未启用")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体不是合法的 JSON")
		return
	}

	created, err := s.tasks.Submit(r.Context(), req.Query)
	if err != nil {
		status := http.StatusInternalServerError
		if xerrors.CodeOf(err) == task.CodeTaskValidation {
			status = http.StatusBadRequest
		}
		writeError(w, status, xerrors.CodeOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusNotImplemented, xerrors.CodeUnknown, "任务服务未启用")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "limit 参数不合法")
			return
		}
		limit = parsed
	}

	tasks, err := s.tasks.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), "查询任务列表失败")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusNotImplemented, xerrors.CodeUnknown, "任务服务未启用")
		return
	}

	found, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, task.CodeTaskNotFound, "任务不存在")
			return
		}
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), "查询任务失败")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Error("写入响应失败", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorBody{Code: string(code), Message: message})
}
