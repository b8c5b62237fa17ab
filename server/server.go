package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"CollabFM/cache"
	"CollabFM/core/auth"
	"CollabFM/core/hub"
	"CollabFM/logger"
	"CollabFM/repository"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// URLResolver 把存储路径解析为可播放地址
type URLResolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// TokenParser 校验 Bearer 令牌
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// StatusReader 读取调度器最近一次运行
type StatusReader interface {
	LastRun(ctx context.Context) (*cache.RunStatus, error)
}

// APIHandler 持有所有 HTTP 处理器的依赖
type APIHandler struct {
	collabRepo  repository.CollaborationRepository
	projectRepo repository.ProjectRepository
	resolver    URLResolver
	tokens      TokenParser
	status      StatusReader
	hub         *hub.Hub
	clock       clock.Clock
	newID       func() string
}

// Deps NewAPIHandler 的参数，Hub 和 Status 可以为空
type Deps struct {
	Collaborations repository.CollaborationRepository
	Projects       repository.ProjectRepository
	Resolver       URLResolver
	Tokens         TokenParser
	Status         StatusReader
	Hub            *hub.Hub
	Clock          clock.Clock
}

func NewAPIHandler(d Deps) *APIHandler {
	h := &APIHandler{
		collabRepo:  d.Collaborations,
		projectRepo: d.Projects,
		resolver:    d.Resolver,
		tokens:      d.Tokens,
		status:      d.Status,
		hub:         d.Hub,
		clock:       d.Clock,
		newID:       uuid.NewString,
	}
	if h.clock == nil {
		h.clock = clock.New()
	}
	return h
}

// Router 注册全部路由。CORS 包在最外层，预检请求不经过路由匹配
func (h *APIHandler) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)

	// 合作相关的API端点
	router.HandleFunc("/api/collaborations", h.ListCollaborationsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/collaborations", h.AuthMiddleware(h.CreateCollaborationHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/collaborations/{id}", h.GetCollaborationHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/collaborations/{id}/vote", h.AuthMiddleware(h.VoteHandler)).Methods(http.MethodPost)

	// 项目相关的API端点
	router.HandleFunc("/api/projects", h.AuthMiddleware(h.CreateProjectHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{id}", h.GetProjectHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/projects/{id}", h.AuthMiddleware(h.UpdateProjectHandler)).Methods(http.MethodPut)

	router.HandleFunc("/api/scheduler/status", h.SchedulerStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/collaborations", h.StageWebSocketHandler).Methods(http.MethodGet)

	return corsMiddleware(router)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve 启动 HTTP 服务，ctx 结束时优雅关闭
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] HTTP 服务启动", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] 正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] 服务已停止")
	return nil
}
