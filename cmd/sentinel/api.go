package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bluesky-social/sentinel/safety/engine"
	"github.com/bluesky-social/sentinel/safety/store"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// registers collectors on the default registry, so must only be created once per process
var apiMetrics = echoprometheus.NewMiddleware("sentinel_api")

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"msg,omitempty"`
}

type ReportView struct {
	*store.DailyReport
	TopRisk []engine.RiskEntry `json:"TopRisk"`
	Text    string             `json:"text"`
}

// Read-only operator API.
func (s *Server) newAPI() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(otelecho.Middleware("sentinel"))
	e.Use(apiMetrics)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/_health", s.HandleHealthCheck)
	e.GET("/reports/:community", s.HandleListReports)
	e.GET("/reports/:community/:date", s.HandleGetReport)
	e.GET("/profiles/:community/:user", s.HandleGetProfile)
	e.GET("/actions/:community/:user", s.HandleListActions)
	e.GET("/appeals/:id", s.HandleGetAppeal)
	return e
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	} else if errors.Is(err, store.ErrNotFound) {
		code = http.StatusNotFound
		msg = "not found"
	}
	if code >= 500 {
		s.logger.Warn("sentinel-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericStatus{Status: "error", Daemon: "sentinel", Message: msg}); err != nil {
		s.logger.Error("writing error response", "err", err)
	}
}

func queryLimit(c echo.Context, def, max int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, max), nil
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	sqldb, err := s.store.DB().DB()
	if err == nil {
		err = sqldb.PingContext(c.Request().Context())
	}
	if err != nil {
		s.logger.Error("health check: database unreachable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "sentinel", Message: "database unreachable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "sentinel", Version: versioninfo.Short()})
}

func (s *Server) HandleListReports(c echo.Context) error {
	limit, err := queryLimit(c, 30, 365)
	if err != nil {
		return err
	}
	reports, err := s.store.ListReports(c.Request().Context(), c.Param("community"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reports)
}

func (s *Server) HandleGetReport(c echo.Context) error {
	r, err := s.reports.Get(c.Request().Context(), c.Param("community"), c.Param("date"))
	if err != nil {
		return err
	}
	view := ReportView{DailyReport: r, TopRisk: []engine.RiskEntry{}, Text: engine.RenderReport(r)}
	if r.TopRisk != "" {
		if err := json.Unmarshal([]byte(r.TopRisk), &view.TopRisk); err != nil {
			s.logger.Warn("malformed stored top-risk list", "community", r.CommunityID, "day", r.Day, "err", err)
		}
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) HandleGetProfile(c echo.Context) error {
	p, err := s.store.GetProfile(c.Request().Context(), c.Param("community"), c.Param("user"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) HandleListActions(c echo.Context) error {
	limit, err := queryLimit(c, 50, 500)
	if err != nil {
		return err
	}
	recs, err := s.store.RecentActions(c.Request().Context(), c.Param("community"), c.Param("user"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) HandleGetAppeal(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appeal id")
	}
	a, err := s.store.GetAppeal(c.Request().Context(), uint(id))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
