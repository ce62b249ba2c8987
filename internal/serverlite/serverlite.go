// Package serverlite is a lightweight, in-memory stand-in for the vendor
// cloud, used by end-to-end tests and local development. It speaks the same
// login, refresh and device REST calls as the real service but not the
// real-time channel.
package serverlite

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/turtacn/contatto/internal/domain/models"
)

// Server is a lightweight, in-memory vendor cloud for E2E testing.
type Server struct {
	HttpServer *http.Server

	signingKey []byte
	email      string
	password   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
	revoked    sync.Map

	mu        sync.Mutex
	devices   map[string]models.Device
	reports   map[string][]models.Report
	configs   map[string]models.DeviceConfiguration
	commands  []Command
	logins    int
	refreshes int
}

// Command is a hardware trigger received by the server.
type Command struct {
	Serial   string
	Hardware string
	At       time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithClock replaces the wall clock used for token expiry and report times.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithTokenTTL sets the lifetime of issued access and refresh tokens.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// NewServer creates a server accepting one account.
func NewServer(addr string, signingKey []byte, email, password string, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		signingKey: signingKey,
		email:      email,
		password:   password,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		clock:      clockwork.NewRealClock(),
		devices:    make(map[string]models.Device),
		reports:    make(map[string][]models.Report),
		configs:    make(map[string]models.DeviceConfiguration),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.GET("/health", s.healthCheck)
	router.POST("/auth/login", s.login)
	router.POST("/auth/refresh", s.refreshToken)

	api := router.Group("/", s.requireAccessToken)
	api.GET("/devices", s.listDevices)
	api.GET("/device/:serial/reports", s.listReports)
	api.PATCH("/device/:serial", s.updateSettings)
	api.POST("/device/hardware/:serial", s.trigger)
	api.GET("/device/configuration/:serial", s.getConfiguration)
	api.POST("/device/configuration/:serial", s.putConfiguration)

	s.HttpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Handler returns the routes, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.HttpServer.Handler
}

// Start runs the server in a goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.HttpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.HttpServer.Shutdown(ctx)
}

// AddDevice registers a device with an initial gate and relay report.
func (s *Server) AddDevice(d models.Device, gate, relay string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.Serial] = d
	s.configs[d.Serial] = models.DeviceConfiguration{"relayDuration": float64(1000)}
	now := s.clock.Now()
	if relay != "" {
		s.appendReport(d.Serial, "relay: "+relay, "setup", now)
	}
	if gate != "" {
		s.appendReport(d.Serial, "gate: "+gate, "setup", now)
	}
}

// AddReport records an activity row as if a user had acted on the device.
func (s *Server) AddReport(serial, target, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendReport(serial, target, user, s.clock.Now())
}

func (s *Server) appendReport(serial, target, user string, at time.Time) {
	row := models.Report{Target: target, CreatedAt: at.UTC().Format(time.RFC3339Nano), Name: user}
	s.reports[serial] = append([]models.Report{row}, s.reports[serial]...)
}

// Commands returns the hardware triggers received so far.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Logins returns the number of successful password logins.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Refreshes returns the number of successful refresh exchanges.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Configuration returns a copy of a device's configuration document.
func (s *Server) Configuration(serial string) models.DeviceConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.DeviceConfiguration{}
	for k, v := range s.configs[serial] {
		out[k] = v
	}
	return out
}

// Device returns the stored device record.
func (s *Server) Device(serial string) (models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[serial]
	return d, ok
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if req.Email != s.email || req.Password != s.password {
		c.JSON(http.StatusUnauthorized, gin.H{"name": "AuthenticationError", "message": "invalid email or password"})
		return
	}

	pair, err := s.issuePair(req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
	c.JSON(http.StatusOK, pair)
}

func (s *Server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	cl, err := s.verifyToken(req.RefreshToken, tokenRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	// Revoke the old refresh token
	s.revoked.Store(cl.ID, true)

	pair, err := s.issuePair(cl.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
	c.JSON(http.StatusOK, pair)
}

// requireAccessToken answers 500 TokenExpiredError for an expired token, as
// the vendor does, and 401 for anything else it cannot verify.
func (s *Server) requireAccessToken(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"name": "UnauthorizedError", "message": "missing token"})
		return
	}
	if _, err := s.verifyToken(raw, tokenAccess); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"name": "TokenExpiredError", "message": "jwt expired"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"name": "UnauthorizedError", "message": err.Error()})
		return
	}
	c.Next()
}

func (s *Server) listDevices(c *gin.Context) {
	s.mu.Lock()
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	c.JSON(http.StatusOK, out)
}

func (s *Server) listReports(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	total, _ := strconv.Atoi(c.DefaultQuery("total", "10"))
	if page < 0 || total <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	rows, ok := s.reports[c.Param("serial")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "NotFoundError", "message": "unknown device"})
		return
	}
	start := page * total
	if start >= len(rows) {
		c.JSON(http.StatusOK, []models.Report{})
		return
	}
	end := start + total
	if end > len(rows) {
		end = len(rows)
	}
	c.JSON(http.StatusOK, rows[start:end])
}

// trigger records the command and appends the matching report row. A gate
// pulse reads as "open"; the relay toggles.
func (s *Server) trigger(c *gin.Context) {
	var req struct {
		Hardware string `json:"hardware"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Hardware != "gate" && req.Hardware != "relay") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	serial := c.Param("serial")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[serial]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "NotFoundError", "message": "unknown device"})
		return
	}
	now := s.clock.Now()
	s.commands = append(s.commands, Command{Serial: serial, Hardware: req.Hardware, At: now})

	value := "open"
	if req.Hardware == "relay" {
		value = "on"
		for _, r := range s.reports[serial] {
			if strings.HasPrefix(r.Target, "relay:") {
				if strings.TrimSpace(strings.TrimPrefix(r.Target, "relay:")) == "on" {
					value = "off"
				}
				break
			}
		}
	}
	s.appendReport(serial, req.Hardware+": "+value, s.email, now)
	c.String(http.StatusOK, "OK")
}

func (s *Server) getConfiguration(c *gin.Context) {
	s.mu.Lock()
	cfg, ok := s.configs[c.Param("serial")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "NotFoundError", "message": "unknown device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

func (s *Server) putConfiguration(c *gin.Context) {
	var req struct {
		Config models.DeviceConfiguration `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Config == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	serial := c.Param("serial")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[serial]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "NotFoundError", "message": "unknown device"})
		return
	}
	s.configs[serial] = req.Config
	c.JSON(http.StatusOK, gin.H{"config": req.Config})
}

func (s *Server) updateSettings(c *gin.Context) {
	var req models.DeviceSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	serial := c.Param("serial")
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[serial]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "NotFoundError", "message": "unknown device"})
		return
	}
	gate, relay := req.Name.Gate, req.Name.Relay
	d.Names.Gate = &gate
	d.Names.Relay = &relay
	d.Favorite = req.Favorite
	d.Notification = req.Notification
	s.devices[serial] = d
	c.Status(http.StatusOK)
}
