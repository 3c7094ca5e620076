package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/observability/metrics"
	"TradingTools/internal/order"
	"TradingTools/internal/web3"
	"TradingTools/pkg/logger"
	"TradingTools/pkg/plugin"
)

const maxBodyBytes = 1 << 20

// ActionInvoker 由插件管理器实现。
type ActionInvoker interface {
	Actions() []plugin.Descriptor
	Invoke(ctx context.Context, name string, raw json.RawMessage) (string, error)
}

// PollerStatus 报告轮询是否在运行。
type PollerStatus interface {
	Polling() bool
}

// ChainReader 提供健康检查所需的链上快照。
type ChainReader interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Config 描述 HTTP 服务参数。
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Deps 汇总处理器依赖。
type Deps struct {
	Actions ActionInvoker
	Orders  *order.Service
	Poller  PollerStatus
	Chain   ChainReader
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	logger *slog.Logger
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(instrument)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/actions", s.handleListActions).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{name}", s.handleInvokeAction).Methods(http.MethodPost)
	v1.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler 返回带 CORS 的根处理器。
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", slog.String("addr", s.cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Actions == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "插件管理器未初始化")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actions.Actions())
}

type invokeResponse struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

func (s *Server) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Actions == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "插件管理器未初始化")
		return
	}
	name := mux.Vars(r)["name"]
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体读取失败")
		return
	}

	result, err := s.deps.Actions.Invoke(r.Context(), name, raw)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Action: name, Result: result})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "订单服务未初始化")
		return
	}
	var statuses []order.Status
	for _, raw := range r.URL.Query()["status"] {
		statuses = append(statuses, order.Status(raw))
	}
	orders, err := s.deps.Orders.List(r.Context(), statuses...)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "订单服务未初始化")
		return
	}
	o, err := s.deps.Orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type healthResponse struct {
	Status  string              `json:"status"`
	Polling bool                `json:"polling"`
	Chain   *web3.ChainSnapshot `json:"chain,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Poller != nil {
		resp.Polling = s.deps.Poller.Polling()
	}
	if s.deps.Chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		snapshot, err := s.deps.Chain.FetchChainSnapshot(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Chain = &snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
	Field   string       `json:"field,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var verr *plugin.ValidationError
	switch {
	case errors.Is(err, plugin.ErrActionNotFound):
		writeError(w, http.StatusNotFound, plugin.CodeActionNotFound, err.Error())
		return
	case errors.As(err, &verr):
		code := xerrors.CodeOf(verr.Err)
		if code == xerrors.CodeUnknown {
			code = xerrors.CodeInvalidArgument
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Code: code, Message: verr.Error(), Field: verr.Field}})
		return
	}

	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case order.CodeOrderNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case order.CodeOrderValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case order.CodeOrderConflict, order.CodeOrderAlreadyFilled, xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("error_code", string(code)), slog.Any("error", err))
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 以路由模板为标签记录请求耗时，避免订单 ID 造成标签膨胀。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(started))
	})
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
