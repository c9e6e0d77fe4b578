// Package api реализует административный REST API демона amrd.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/annel0/amr-mesh/internal/middleware"
	"github.com/annel0/amr-mesh/internal/simulation"
	"github.com/annel0/amr-mesh/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	driver     *simulation.Driver
	port       string
	metrics    *ServerMetrics
	log        *logging.Logger
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string             // адрес для запуска сервера, например ":8088"
	Driver   *simulation.Driver // драйвер циклов адаптации
	Registry *prometheus.Registry
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("amr_admin"))
	router.Use(middleware.NewRequestLogger(nil).Handler())

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("amr_admin", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	server := &RestServer{
		router:  router,
		driver:  config.Driver,
		port:    config.Port,
		metrics: NewServerMetrics(),
		log:     logging.GetServerLogger(),
	}
	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/mesh", rs.handleMesh)
		api.GET("/mesh/summary", rs.handleMeshSummary)
		api.POST("/adapt", rs.handleAdapt)
		api.GET("/cycles", rs.handleCycles)
		api.GET("/cycles/:cycle", rs.handleCycle)
		api.GET("/status", rs.handleStatus)
	}
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.log.Info("🌐 Admin API слушает %s", rs.port)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop плавно останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}

// handleHealth сообщает, жив ли протокол
func (rs *RestServer) handleHealth(c *gin.Context) {
	rt := rs.driver.Runtime()
	if err := rt.Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "failed",
			"error":  err.Error(),
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleMesh возвращает полный снимок дерева
func (rs *RestServer) handleMesh(c *gin.Context) {
	snap, err := rs.driver.Runtime().Snapshot(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок сетки получен",
		Data:    snap,
	})
}

// MeshSummary: краткое состояние сетки без обхода блоков
type MeshSummary struct {
	Cycle      int               `json:"cycle"`
	Blocks     int               `json:"blocks"`
	Busy       bool              `json:"busy"`
	Rank       int               `json:"rank"`
	Boundary   string            `json:"boundary"`
	Criteria   []string          `json:"criteria"`
	LastReport *mesh.CycleReport `json:"last_report,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (rs *RestServer) handleMeshSummary(c *gin.Context) {
	rt := rs.driver.Runtime()
	opts := rt.Options()
	summary := MeshSummary{
		Cycle:    rt.LastCycle(),
		Blocks:   rt.Blocks(),
		Busy:     rt.Busy(),
		Rank:     opts.Rank,
		Boundary: opts.Boundary.String(),
		Criteria: opts.Criteria.Names(),
	}
	if report, ok := rs.driver.LastReport(); ok {
		summary.LastReport = &report
	}
	if err := rt.Err(); err != nil {
		summary.Error = err.Error()
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние сетки",
		Data:    summary,
	})
}

// handleAdapt запускает один цикл адаптации и ждёт его завершения
func (rs *RestServer) handleAdapt(c *gin.Context) {
	report, err := rs.driver.Step(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Цикл %d завершён", report.Cycle),
		Data:    report,
	})
}

func (rs *RestServer) handleCycles(c *gin.Context) {
	store := rs.driver.Store()
	if store == nil {
		rs.writeError(c, errNoStore)
		return
	}
	cycles, err := store.Cycles(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список сохранённых циклов",
		Data: map[string]interface{}{
			"cycles": cycles,
			"total":  len(cycles),
		},
	})
}

func (rs *RestServer) handleCycle(c *gin.Context) {
	store := rs.driver.Store()
	if store == nil {
		rs.writeError(c, errNoStore)
		return
	}

	var (
		rec *storage.Record
		err error
	)
	if param := c.Param("cycle"); param == "latest" {
		rec, err = store.Latest(c.Request.Context())
	} else {
		cycle, convErr := strconv.Atoi(param)
		if convErr != nil || cycle < 0 {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Неверный номер цикла: " + param,
			})
			return
		}
		rec, err = store.Load(c.Request.Context(), cycle)
	}
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Снимок цикла %d", rec.Cycle),
		Data:    rec,
	})
}

// handleStatus возвращает сведения о процессе
func (rs *RestServer) handleStatus(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetProcessMemory()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус сервера",
		Data: map[string]interface{}{
			"uptime":         rs.metrics.GetUptime(),
			"rss_mb":         fmt.Sprintf("%.2f", memoryMB),
			"cpu_percent":    fmt.Sprintf("%.2f", cpuPercent),
			"server_time":    time.Now().Unix(),
			"memory_details": rs.metrics.GetDetailedMemoryStats(),
			"loggers":        logging.Components().Status(),
		},
	})
}

var errNoStore = errors.New("хранилище снимков не настроено")

// writeError переводит ошибки протокола и хранилища в HTTP-статусы
func (rs *RestServer) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var violation *mesh.ProtocolViolation
	switch {
	case errors.Is(err, mesh.ErrCycleInProgress):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errNoStore), errors.Is(err, mesh.ErrClosed), errors.Is(err, mesh.ErrNotStarted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &violation):
		rs.log.Error("💥 Нарушение протокола: %v", violation)
	}
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}
