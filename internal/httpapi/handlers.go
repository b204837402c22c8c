package httpapi

import (
	"net/http"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/audit"
	"telemed-platform/internal/auth"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/prescriptions"
	"telemed-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Scheduler *appointments.Scheduler
	Sessions  *appointments.SessionMachine
	Payments  *payments.Service
	Audit     *audit.Service

	Prescriptions *prescriptions.Service

	// clock is only overridden in tests.
	clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// --- Identity ---

func identity(c *gin.Context) (userID, role string, ok bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	role, _ = auth.Role(c.Request.Context())
	return userID, role, true
}

func (h Handlers) Me(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// DevToken issues a token pair for local development.
//
// NOTE: Only registered outside production. Real tokens come from the portal's auth service.
func (h Handlers) DevToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role are required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}

// --- Appointments ---

type createAppointmentRequest struct {
	// PatientID is honoured for admins only; patients always book for themselves.
	PatientID       string            `json:"patient_id,omitempty"`
	DoctorID        string            `json:"doctor_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            appointments.Type `json:"type"`
	Notes           string            `json:"notes,omitempty"`
}

// CreateAppointment books a slot. RBAC: patient (admin on behalf of a patient).
func (h Handlers) CreateAppointment(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	patientID := uid
	if rbac.IsAdmin(role) {
		patientID = req.PatientID
	}

	a, err := h.Scheduler.CreateAppointment(c.Request.Context(), appointments.CreateRequest{
		PatientID:       patientID,
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Notes:           req.Notes,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h Handlers) ListAppointments(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.Scheduler.ListAppointments(c.Request.Context(), appointments.ListRequest{
		RequesterID: uid,
		Role:        role,
		State:       appointments.State(c.Query("state")),
		PatientID:   c.Query("patient_id"),
		DoctorID:    c.Query("doctor_id"),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": list})
}

func (h Handlers) GetAppointment(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Scheduler.GetAppointment(c.Request.Context(), c.Param("id"), uid, role)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateAppointment edits notes or moves the slot. RBAC: the booking patient.
func (h Handlers) UpdateAppointment(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req appointments.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Scheduler.UpdateDetails(c.Request.Context(), c.Param("id"), uid, req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) CancelAppointment(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Scheduler.CancelAppointment(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RecordPayment captures the pending charge. RBAC: the booking patient.
func (h Handlers) RecordPayment(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Scheduler.RecordPayment(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		WriteError(c, err)
		return
	}
	resp := gin.H{"appointment": a}
	if h.Payments != nil {
		if sum, err := h.Payments.Summary(c.Request.Context(), a.ID); err == nil {
			resp["payment"] = sum
		}
	}
	c.JSON(http.StatusOK, resp)
}

// --- Sessions ---

// StartVideo opens (or rejoins) the video session and returns the room grant.
func (h Handlers) StartVideo(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	g, err := h.Sessions.StartSession(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h Handlers) EndSession(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Sessions.EndSession(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Audit ---

// AppointmentEvents returns the lifecycle trail of an appointment visible to the requester.
func (h Handlers) AppointmentEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Scheduler.GetAppointment(c.Request.Context(), c.Param("id"), uid, role)
	if err != nil {
		WriteError(c, err)
		return
	}
	events, err := h.Audit.Trail(c.Request.Context(), a.ID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Prescriptions ---

// IssuePrescription RBAC: the doctor of the referenced appointment.
func (h Handlers) IssuePrescription(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req prescriptions.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Prescriptions.Issue(c.Request.Context(), uid, req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h Handlers) ListPrescriptions(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.Prescriptions.List(c.Request.Context(), uid, role)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prescriptions": list})
}

func (h Handlers) GetPrescription(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	p, err := h.Prescriptions.Get(c.Request.Context(), c.Param("id"), uid, role)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) CancelPrescription(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	p, err := h.Prescriptions.Cancel(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
