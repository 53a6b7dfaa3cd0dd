package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/opdcare/opd/internal/platform/auth"
)

// AuditEntry captures who acted on which visit, when, and with what outcome.
// Every workflow mutation passes through here, so the access log doubles as
// the compliance trail for clinical record access.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string // read, create, transition
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. Tests provide a mock; production
// falls back to structured logging when none is given.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns middleware that records every access under /api/v1 with the
// authenticated caller, the touched resource, and the response status.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)
			resource, resourceID := resourceFromPath(req.URL.Path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: resourceID,
				Action:     actionFromMethod(req.Method),
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  rid,
				StatusCode: c.Response().Status,
			}

			recorded := false
			for _, r := range recorders {
				if rerr := r.RecordAccess(entry); rerr == nil {
					recorded = true
				} else {
					logger.Error().Err(rerr).Str("request_id", rid).Msg("audit recorder failed")
				}
			}
			if !recorded {
				logger.Info().
					Str("request_id", entry.RequestID).
					Str("user_id", entry.UserID).
					Strs("roles", entry.UserRoles).
					Str("resource", entry.Resource).
					Str("resource_id", entry.ResourceID).
					Str("action", entry.Action).
					Str("method", entry.Method).
					Str("path", entry.Path).
					Int("status", entry.StatusCode).
					Msg("access")
			}

			return err
		}
	}
}

// resourceFromPath extracts the resource name and id from an /api/v1 path,
// e.g. "/api/v1/visits/<id>/finalize" -> ("visits", "<id>").
func resourceFromPath(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// parts[0]="api", parts[1]="v1"
	if len(parts) < 3 {
		return "", ""
	}
	resource := parts[2]
	if len(parts) > 3 {
		return resource, parts[3]
	}
	return resource, ""
}

func actionFromMethod(method string) string {
	switch method {
	case "GET":
		return "read"
	case "POST":
		return "transition"
	case "PATCH", "PUT":
		return "update"
	case "DELETE":
		return "delete"
	}
	return strings.ToLower(method)
}
