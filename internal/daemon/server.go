package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"packrat/internal/heartbeat"
	"packrat/internal/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is the watch daemon's local control API.
type Server struct {
	echo   *echo.Echo
	daemon *Daemon
	port   int
}

func NewServer(d *Daemon, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, daemon: d, port: port}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/trigger", s.handleTrigger)
	s.echo.POST("/run", s.handleRun)
	s.echo.POST("/stop", s.handleStop)
	s.echo.GET("/history", s.handleHistory)
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.port)
		logger.Log.Info("control server started", zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Warn("control server unavailable", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleStatus(c echo.Context) error {
	rec, err := heartbeat.Read(s.daemon.hb.Path())
	resp := map[string]any{
		"project": s.daemon.project.Name,
		"path":    s.daemon.project.Path,
		"state":   s.daemon.coord.State().String(),
	}
	if err == nil {
		resp["heartbeat"] = rec
	}

	return c.JSON(http.StatusOK, resp)
}

// handleTrigger injects an activity signal, subject to the normal debounce.
func (s *Server) handleTrigger(c echo.Context) error {
	s.daemon.coord.Signal()
	return c.JSON(http.StatusAccepted, map[string]string{"state": s.daemon.coord.State().String()})
}

// handleRun starts an immediate backup, bypassing debounce and gates.
func (s *Server) handleRun(c echo.Context) error {
	force := c.QueryParam("force") == "true"
	go s.daemon.runOnce(context.Background(), force)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.daemon.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	recs, err := s.daemon.repo.RecentRuns(s.daemon.project.ProjectID, n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	type runView struct {
		Status    string        `json:"status"`
		StartedAt time.Time     `json:"started_at"`
		Duration  time.Duration `json:"duration"`
		Files     int           `json:"files"`
		ErrMsg    string        `json:"error,omitempty"`
	}

	views := make([]runView, 0, len(recs))
	for _, r := range recs {
		views = append(views, runView{
			Status:    string(r.Status),
			StartedAt: r.StartedAt,
			Duration:  r.Duration,
			Files:     r.Files,
			ErrMsg:    r.ErrMsg,
		})
	}

	return c.JSON(http.StatusOK, views)
}
