// Package httpapi serves the records store over an authenticated ops API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollbook/internal/auth"
	"rollbook/internal/queue"
	"rollbook/internal/records"
)

// Store is the part of records.Store the API serves.
type Store interface {
	LoadMembers(ctx context.Context, useCache bool) ([]records.Member, error)
	SaveMembers(ctx context.Context, members []records.Member) error
	AddMember(ctx context.Context, m records.Member) (records.Member, error)
	MergeMembers(ctx context.Context, members []records.Member) (records.MergeResult, error)
	FindDuplicates(ctx context.Context) ([]records.DuplicateGroup, error)

	LoadAttendance(ctx context.Context, useCache bool, f records.AttendanceFilter) ([]records.Attendance, error)
	GetExistingAttendance(ctx context.Context, date time.Time, group string) (records.NameSet, error)
	SaveAttendance(ctx context.Context, recs []records.Attendance) (records.SaveResult, error)
	UpdateAttendanceRecord(ctx context.Context, key records.AttendanceKey, changes records.AttendanceChanges) (records.Attendance, error)
	DeleteAttendanceRecord(ctx context.Context, key records.AttendanceKey) error

	ClearCache(ctx context.Context) error
	Status(ctx context.Context) records.StoreStatus
	Reconnect(ctx context.Context) error
	QualityReport(ctx context.Context) (records.QualityReport, error)
}

// Options configures NewRouter.
type Options struct {
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	// Queue enables ?async=1 on attendance writes when set.
	Queue queue.Queue
	// Metrics defaults to promhttp.Handler().
	Metrics http.Handler
}

type server struct {
	store Store
	queue queue.Queue
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(store Store, opts Options) *gin.Engine {
	s := &server{store: store, queue: opts.Queue}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(requestID())
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	r.GET("/healthz", s.health)

	limiter := NewClientLimiter(opts.RateLimitPerMin, opts.RateLimitPerMin)
	v1 := r.Group("/v1", auth.Bearer(opts.SigningKey, opts.Issuer), limiter.Middleware())
	viewer := auth.RequireRole(auth.RoleViewer)
	staff := auth.RequireRole(auth.RoleStaff)
	admin := auth.RequireRole(auth.RoleAdmin)

	v1.GET("/members", viewer, s.listMembers)
	v1.POST("/members", staff, s.addMember)
	v1.PUT("/members", staff, s.saveMembers)
	v1.GET("/members/duplicates", viewer, s.duplicates)
	v1.GET("/members/export", viewer, s.exportMembers)
	v1.POST("/members/import", staff, s.importMembers)

	v1.GET("/attendance", viewer, s.listAttendance)
	v1.GET("/attendance/existing", viewer, s.existingAttendance)
	v1.POST("/attendance", staff, s.saveAttendance)
	v1.PATCH("/attendance", staff, s.updateAttendance)
	v1.DELETE("/attendance", staff, s.deleteAttendance)
	v1.GET("/attendance/export", viewer, s.exportAttendance)
	v1.POST("/attendance/import", staff, s.importAttendance)

	v1.GET("/admin/status", admin, s.status)
	v1.POST("/admin/cache/clear", admin, s.clearCache)
	v1.POST("/admin/reconnect", admin, s.reconnect)
	v1.GET("/admin/quality", admin, s.quality)

	return r
}

func (s *server) health(c *gin.Context) {
	st := s.store.Status(c.Request.Context())
	status := http.StatusOK
	if st.CacheError != "" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    "ok",
		"connected": st.Connection.Connected,
		"cache":     st.CacheError == "",
	})
}

func (s *server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Status(c.Request.Context()))
}

func (s *server) clearCache(c *gin.Context) {
	if err := s.store.ClearCache(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) reconnect(c *gin.Context) {
	if err := s.store.Reconnect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.store.Status(c.Request.Context()).Connection)
}

func (s *server) quality(c *gin.Context) {
	report, err := s.store.QualityReport(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// fresh reports whether the caller asked to bypass the cache.
func fresh(c *gin.Context) bool {
	switch c.Query("fresh") {
	case "1", "true", "yes":
		return true
	}
	return false
}
