package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/observability/metrics"
	"OpenChat-Bot/internal/relay"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

// ModuleSource 提供模块状态快照。
type ModuleSource interface {
	Modules() map[string]plugin.Status
}

// Announcer 把文本发送到某个网络的目标。
type Announcer interface {
	SendTo(ctx context.Context, server, target, text string) error
	Networks() []string
}

// Server 负责暴露管理接口。
type Server struct {
	addr      string
	token     string
	modules   ModuleSource
	announcer Announcer
}

// NewServer 构造 API 服务实例，token 为空时不做认证。
func NewServer(addr, token string, modules ModuleSource, announcer Announcer) *Server {
	return &Server{addr: addr, token: token, modules: modules, announcer: announcer}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", instrument("metrics", metrics.Handler()))
	mux.Handle("/api/v1/modules", instrument("modules", s.authenticated(http.HandlerFunc(s.handleModules))))
	mux.Handle("/api/v1/announce", instrument("announce", s.authenticated(http.HandlerFunc(s.handleAnnounce))))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("管理接口已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status   string   `json:"status"`
	Networks []string `json:"networks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok", Networks: []string{}}
	if s.announcer != nil {
		resp.Networks = append(resp.Networks, s.announcer.Networks()...)
	}
	writeJSON(w, http.StatusOK, resp)
}

type moduleView struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Version        string   `json:"version,omitempty"`
	State          string   `json:"state"`
	EnabledDefault bool     `json:"enabled_default"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Dependents     []string `json:"dependents,omitempty"`
	Commands       int      `json:"commands"`
	Hooks          int      `json:"hooks"`
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.modules == nil {
		http.Error(w, "模块管理器未初始化", http.StatusServiceUnavailable)
		return
	}
	snapshot := s.modules.Modules()
	views := make([]moduleView, 0, len(snapshot))
	for name, st := range snapshot {
		views = append(views, moduleView{
			Name:           name,
			Description:    st.Info.Description,
			Version:        st.Info.Version,
			State:          string(st.State),
			EnabledDefault: st.EnabledDefault,
			Dependencies:   st.Info.Dependencies,
			Dependents:     st.Dependents,
			Commands:       st.Commands,
			Hooks:          st.Hooks,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.announcer == nil {
		http.Error(w, "聊天网络未初始化", http.StatusServiceUnavailable)
		return
	}
	var a relay.Announcement
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&a); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if err := a.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.announcer.SendTo(r.Context(), a.Server, a.Target, a.Text); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	logger.Audit().Info("announce", "server", a.Server, "target", a.Target)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// authenticated 校验 Bearer 令牌，并把拒绝的请求写入审计日志。
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.token)) != 1 {
			logger.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"remote", r.RemoteAddr,
			)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
