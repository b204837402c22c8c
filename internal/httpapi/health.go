package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Health serves liveness and readiness. Required checks failing makes the API
// unready; optional ones only degrade it.
type Health struct {
	Env      string
	Version  string
	Required map[string]Check
	Optional map[string]Check
}

type readinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h Health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.Version, "env": h.Env})
}

func (h Health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := readinessResponse{Status: "ok", Version: h.Version, Env: h.Env, Dependencies: map[string]string{}}
	for _, name := range sortedNames(h.Required) {
		if !ping(ctx, h.Required[name]) {
			resp.Dependencies[name] = "down"
			resp.Status = "error"
			continue
		}
		resp.Dependencies[name] = "ok"
	}
	for _, name := range sortedNames(h.Optional) {
		if !ping(ctx, h.Optional[name]) {
			resp.Dependencies[name] = "down"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func ping(ctx context.Context, check Check) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return check(ctx) == nil
}

func sortedNames(m map[string]Check) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
