// Package api реализует служебный REST API сервера репликации:
// состояние процесса, подключения и загруженные регистры.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/server"
)

// RestServer служебный HTTP-сервер
type RestServer struct {
	router     *gin.Engine
	game       *server.GameServer
	registries *registry.Manager
	startedAt  time.Time
	httpServer *http.Server
}

// NewRestServer создаёт REST-сервер поверх запущенного игрового сервера
func NewRestServer(game *server.GameServer, regs *registry.Manager) *RestServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New() // без стандартного logger/recovery
	router.Use(gin.Recovery())

	rs := &RestServer{
		router:     router,
		game:       game,
		registries: regs,
		startedAt:  time.Now(),
	}
	rs.setupRoutes()
	return rs
}

func (rs *RestServer) setupRoutes() {
	rs.router.GET("/status", rs.handleStatus)
	rs.router.GET("/connections", rs.handleConnections)
	rs.router.GET("/registries", rs.handleRegistries)
}

func (rs *RestServer) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime_sec": int64(time.Since(rs.startedAt).Seconds()),
		"tick":       rs.game.Tick(),
		"clients":    rs.game.ClientCount(),
	}

	// Системные метрики: ошибки не фатальны, поля просто опускаются
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["mem_used_percent"] = vm.UsedPercent
	}

	c.JSON(http.StatusOK, status)
}

func (rs *RestServer) handleConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count": rs.game.ClientCount(),
		"tick":  rs.game.Tick(),
	})
}

func (rs *RestServer) handleRegistries(c *gin.Context) {
	type regInfo struct {
		Name string `json:"name"`
		Len  int    `json:"len"`
	}
	infos := make([]regInfo, 0, rs.registries.Count())
	for _, reg := range rs.registries.All() {
		infos = append(infos, regInfo{Name: reg.Name(), Len: reg.Len()})
	}
	c.JSON(http.StatusOK, gin.H{"registries": infos})
}

// Start запускает сервер на указанном адресе (не блокирует)
func (rs *RestServer) Start(addr string) {
	rs.httpServer = &http.Server{Addr: addr, Handler: rs.router}
	go func() {
		logging.Info("📡 REST API слушает %s", addr)
		if err := rs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ REST API остановлен: %v", err)
		}
	}()
}

// Stop останавливает сервер
func (rs *RestServer) Stop() {
	if rs.httpServer != nil {
		rs.httpServer.Close()
	}
}
