package audit

import (
	"context"
	"strings"
	"time"

	"github.com/careguard/careguard/internal/platform/middleware"
)

// APIRecorder adapts the Service to the middleware.AuditRecorder interface so
// HTTP access to PHI endpoints lands in the same trail as pipeline and
// compliance actions.
func APIRecorder(svc *Service) middleware.AuditRecorderFunc {
	return func(entry middleware.AuditEntry) error {
		detail := map[string]interface{}{
			"path":       entry.Path,
			"method":     entry.Method,
			"ip_address": entry.IPAddress,
			"status":     entry.StatusCode,
		}
		if entry.RequestID != "" {
			detail["request_id"] = entry.RequestID
		}
		if entry.UserAgent != "" {
			detail["user_agent"] = entry.UserAgent
		}
		if len(entry.UserRoles) > 0 {
			detail["roles"] = entry.UserRoles
		}

		occurred := entry.Timestamp
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}

		// The service swallows store errors, so the middleware never sees one.
		svc.Record(context.Background(), Record{
			OccurredAt:   occurred,
			Actor:        entry.UserID,
			Action:       strings.ToUpper(entry.Action),
			ResourceType: entry.ResourceType,
			ResourceID:   entry.PatientID,
			Source:       SourceAPI,
			Detail:       detail,
		})
		return nil
	}
}
