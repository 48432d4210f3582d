package monitor

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propforge/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for the monitoring engine.
type Handler struct {
	svc         *Service
	adminSecret string
}

// NewHandler creates a monitor handler. adminSecret guards the
// administrative endpoints; when empty they always return 403.
func NewHandler(svc *Service, adminSecret string) *Handler {
	return &Handler{svc: svc, adminSecret: adminSecret}
}

// RegisterRoutes sets up security-monitoring endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/security/auth-attempts", h.PostAuthAttempt)
	r.POST("/security/payments", h.PostPayment)
	r.POST("/security/api-usage", h.PostAPIUsage)
	r.POST("/security/data-access", h.PostDataAccess)
	r.GET("/security/metrics", h.GetMetrics)
	r.GET("/security/alerts", h.GetAlerts)

	// Administrative endpoints
	r.POST("/security/alerts/:id/resolve", h.requireAdmin, h.PostResolveAlert)
	r.POST("/security/blocks", h.requireAdmin, h.PostBlockIP)
	r.POST("/security/locks/clear", h.requireAdmin, h.PostClearLocks)
}

// requireAdmin gates a route on the X-Admin-Secret header.
func (h *Handler) requireAdmin(c *gin.Context) {
	secret := c.GetHeader("X-Admin-Secret")
	if h.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.adminSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Admin access required",
		})
		return
	}
	c.Next()
}

type authAttemptRequest struct {
	Email     string         `json:"email"`
	IP        string         `json:"ip"`
	Success   bool           `json:"success"`
	UserAgent string         `json:"userAgent"`
	Metadata  map[string]any `json:"metadata"`
}

// PostAuthAttempt evaluates an authentication attempt.
// POST /v1/security/auth-attempts
func (h *Handler) PostAuthAttempt(c *gin.Context) {
	var req authAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.MaxLength("email", req.Email, 255),
		validation.Required("ip", req.IP),
		validation.ValidIP("ip", req.IP),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	d := h.svc.MonitorAuthAttempt(c.Request.Context(), AuthAttempt{
		Email:     req.Email,
		IP:        req.IP,
		Success:   req.Success,
		UserAgent: req.UserAgent,
		Metadata:  req.Metadata,
	})
	c.JSON(http.StatusOK, d)
}

type paymentRequest struct {
	UserID        string         `json:"userId"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	IP            string         `json:"ip"`
	PaymentMethod string         `json:"paymentMethod"`
	Metadata      map[string]any `json:"metadata"`
}

// PostPayment screens a proposed payment transaction.
// POST /v1/security/payments
func (h *Handler) PostPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.Required("ip", req.IP),
		validation.ValidIP("ip", req.IP),
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	d := h.svc.MonitorPaymentTransaction(c.Request.Context(), PaymentAttempt{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		IP:            req.IP,
		PaymentMethod: req.PaymentMethod,
		Metadata:      req.Metadata,
	})
	c.JSON(http.StatusOK, d)
}

type apiUsageRequest struct {
	Endpoint       string `json:"endpoint"`
	UserID         string `json:"userId"`
	IP             string `json:"ip"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	StatusCode     int    `json:"statusCode"`
}

// PostAPIUsage records an API request observation.
// POST /v1/security/api-usage
func (h *Handler) PostAPIUsage(c *gin.Context) {
	var req apiUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("ip", req.IP),
		validation.ValidIP("ip", req.IP),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	h.svc.MonitorAPIUsage(c.Request.Context(), APIUsage{
		Endpoint:     req.Endpoint,
		UserID:       req.UserID,
		IP:           req.IP,
		ResponseTime: time.Duration(req.ResponseTimeMs) * time.Millisecond,
		StatusCode:   req.StatusCode,
	})
	c.Status(http.StatusAccepted)
}

type dataAccessRequest struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Action       string `json:"action"`
	UserID       string `json:"userId"`
	IP           string `json:"ip"`
	Authorized   bool   `json:"authorized"`
}

// PostDataAccess records a data-access observation.
// POST /v1/security/data-access
func (h *Handler) PostDataAccess(c *gin.Context) {
	var req dataAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.Required("ip", req.IP),
		validation.ValidIP("ip", req.IP),
		validation.OneOf("action", req.Action, string(ActionRead), string(ActionWrite), string(ActionDelete), string(ActionExport)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	h.svc.MonitorDataAccess(c.Request.Context(), DataAccess{
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       AccessAction(req.Action),
		UserID:       req.UserID,
		IP:           req.IP,
		Authorized:   req.Authorized,
	})
	c.Status(http.StatusAccepted)
}

// GetMetrics returns a point-in-time security metrics snapshot.
// GET /v1/security/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Metrics())
}

// GetAlerts returns unresolved alerts, newest first.
// GET /v1/security/alerts
func (h *Handler) GetAlerts(c *gin.Context) {
	alerts := h.svc.ActiveAlerts()
	if alerts == nil {
		alerts = []Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// PostResolveAlert resolves an alert by ID.
// POST /v1/security/alerts/:id/resolve
func (h *Handler) PostResolveAlert(c *gin.Context) {
	id := c.Param("id")
	if !h.svc.ResolveAlert(id) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "alert_not_found",
			"message": "Alert does not exist or is already resolved",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true, "id": id})
}

type blockIPRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// PostBlockIP administratively blocks an IP.
// POST /v1/security/blocks
func (h *Handler) PostBlockIP(c *gin.Context) {
	var req blockIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("ip", req.IP),
		validation.ValidIP("ip", req.IP),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	h.svc.BlockIP(req.IP, validation.SanitizeString(req.Reason, 500))
	c.JSON(http.StatusOK, gin.H{"blocked": true, "ip": req.IP})
}

// PostClearLocks clears all IP blocks and account locks.
// POST /v1/security/locks/clear
func (h *Handler) PostClearLocks(c *gin.Context) {
	cleared, err := h.svc.ClearAllLocks()
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "reset_disabled",
			"message": "Administrative reset is disabled in this environment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}
