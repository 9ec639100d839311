// Package httpapi implements the Control API of spec §6 on gin-gonic/gin,
// grounded on tbourn-chatbot's internal/http/router.go for middleware
// ordering (tracing, recovery, gzip, CORS) and on the teacher's
// interfaces/cli server command for the listen/shutdown lifecycle. Handlers
// dispatch Orchestrator operations through the task registry so a request
// never blocks on acquisition (design note §9).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/example/reservation-agent/internal/cancelbus"
	"github.com/example/reservation-agent/internal/config"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store"
	"github.com/example/reservation-agent/internal/taskregistry"
)

// SubmitFunc is the Orchestrator's Submit entry point, function-typed to
// avoid importing internal/orchestrator directly from the HTTP layer.
type SubmitFunc func(ctx context.Context, requestID int64) error
type RetryFunc func(ctx context.Context, requestID int64) error
type CancelFunc func(ctx context.Context, requestID int64) error

type Server struct {
	Store     store.Store
	CancelBus *cancelbus.Bus
	Tasks     *taskregistry.Registry
	Submit    SubmitFunc
	Retry     RetryFunc
	Cancel    CancelFunc
	Registry  *prometheus.Registry

	// Profiles is the optional name -> AcquisitionProfile table loaded from
	// ACQUISITION_PROFILE_FILE; createReservation applies a profile's
	// MaxPollDuration when a request names one (SPEC_FULL §A Configuration).
	Profiles map[string]config.AcquisitionProfile

	engine *gin.Engine
}

func New(st store.Store, bus *cancelbus.Bus, tasks *taskregistry.Registry, submit SubmitFunc, retry RetryFunc, cancel CancelFunc, reg *prometheus.Registry, profiles map[string]config.AcquisitionProfile) *Server {
	s := &Server{
		Store:     st,
		CancelBus: bus,
		Tasks:     tasks,
		Submit:    submit,
		Retry:     retry,
		Cancel:    cancel,
		Registry:  reg,
		Profiles:  profiles,
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(otelgin.Middleware("reservation-agent"))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	r.POST("/reservations", s.createReservation)
	r.GET("/reservations", s.listReservations)
	r.GET("/reservations/:id", s.getReservation)
	r.DELETE("/reservations/:id", s.cancelReservation)
	r.POST("/reservations/:id/retry", s.retryReservation)
	r.GET("/status", s.getStatus)
	r.GET("/bookings", s.listBookings)
	r.GET("/activity", s.listActivity)

	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

type createReservationRequest struct {
	RestaurantName  string     `json:"restaurant_name" binding:"required"`
	Date            string     `json:"date" binding:"required"`
	Time            string     `json:"time" binding:"required"`
	PartySize       int        `json:"party_size" binding:"required"`
	ContactEmail    string     `json:"contact_email" binding:"required"`
	VenueID         string     `json:"venue_id"`
	BookingOpenTime *time.Time `json:"booking_open_time"`
	Profile         string     `json:"profile"`
}

func (s *Server) createReservation(c *gin.Context) {
	var body createReservationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxPollDuration := reservation.DefaultMaxPollDuration
	if body.Profile != "" {
		profile, ok := s.Profiles[body.Profile]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown profile " + body.Profile})
			return
		}
		if profile.MaxPollDuration > 0 {
			maxPollDuration = profile.MaxPollDuration
		}
	}

	id, err := s.Store.Create(c.Request.Context(), reservation.RequestSpec{
		RestaurantName:  body.RestaurantName,
		Date:            body.Date,
		Time:            body.Time,
		PartySize:       body.PartySize,
		ContactEmail:    body.ContactEmail,
		VenueID:         body.VenueID,
		BookingOpenTime: body.BookingOpenTime,
		MaxPollDuration: maxPollDuration,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.Tasks.Go(id, func(ctx context.Context) error { return s.Submit(ctx, id) })

	req, err := s.Store.Load(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, requestJSON(req))
}

func (s *Server) listReservations(c *gin.Context) {
	statuses := allStatuses()
	if q := c.Query("status"); q != "" {
		statuses = []reservation.Status{reservation.Status(q)}
	}
	reqs, err := s.Store.ListByStatus(c.Request.Context(), statuses)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, requestJSON(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getReservation(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := s.Store.Load(c.Request.Context(), id)
	if err != nil {
		writeLookupErr(c, err)
		return
	}
	logs, err := s.Store.ListLogs(c.Request.Context(), &id, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bookings, err := s.Store.ListBookings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var reqBookings []reservation.Booking
	for _, b := range bookings {
		if b.RequestID == id {
			reqBookings = append(reqBookings, b)
		}
	}
	subs, err := s.Store.ListSubscriptionsByRequest(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := requestJSON(req)
	body["logs"] = logs
	body["bookings"] = reqBookings
	body["subscriptions"] = subs
	c.JSON(http.StatusOK, body)
}

func (s *Server) cancelReservation(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Cancel(c.Request.Context(), id); err != nil {
		writeLookupErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) retryReservation(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := s.Store.Load(c.Request.Context(), id)
	if err != nil {
		writeLookupErr(c, err)
		return
	}
	if req.Status == reservation.StatusBooked {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request is already booked"})
		return
	}
	s.Tasks.Go(id, func(ctx context.Context) error { return s.Retry(ctx, id) })

	req, err = s.Store.Load(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, requestJSON(req))
}

func (s *Server) getStatus(c *gin.Context) {
	all, err := s.Store.ListByStatus(c.Request.Context(), allStatuses())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activeSnipers := 0
	for _, r := range all {
		if r.Status == reservation.StatusWaiting || r.Status == reservation.StatusPolling {
			activeSnipers++
		}
	}
	bookings, err := s.Store.ListBookings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_requests": len(all),
		"active_snipers": activeSnipers,
		"total_bookings": len(bookings),
	})
}

func (s *Server) listBookings(c *gin.Context) {
	bookings, err := s.Store.ListBookings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Server) listActivity(c *gin.Context) {
	var requestID *int64
	if q := c.Query("request_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request_id"})
			return
		}
		requestID = &id
	}
	limit := 100
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.Store.ListLogs(c.Request.Context(), requestID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func writeLookupErr(c *gin.Context, err error) {
	if errors.Is(err, reservation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func requestJSON(r reservation.Request) gin.H {
	return gin.H{
		"id":                r.ID,
		"restaurant_name":   r.RestaurantName,
		"date":              r.Date,
		"time":              r.Time,
		"party_size":        r.PartySize,
		"contact_email":     r.ContactEmail,
		"booking_open_time": r.BookingOpenTime,
		"status":            r.Status,
		"venue_id":          r.VenueID,
		"platform":          r.Platform,
		"poll_attempts":     r.PollAttempts,
		"created_at":        r.CreatedAt,
		"updated_at":        r.UpdatedAt,
	}
}

func allStatuses() []reservation.Status {
	return []reservation.Status{
		reservation.StatusPending, reservation.StatusSearching, reservation.StatusWaiting,
		reservation.StatusPolling, reservation.StatusNotifyReceived, reservation.StatusBooked,
		reservation.StatusNoAvailability, reservation.StatusFailed, reservation.StatusCancelled,
	}
}
