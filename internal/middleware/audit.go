package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/services"
)

const auditBodyLimit = 4 << 10

// Route segments that name the operation rather than a resource.
var auditVerbs = map[string]bool{
	"accept":             true,
	"leave":              true,
	"regenerate":         true,
	"spend":              true,
	"transfer-ownership": true,
}

var redactedKeys = map[string]bool{
	"token":       true,
	"secret":      true,
	"password":    true,
	"customer_id": true,
}

// AuditLog records state-changing requests to system_logs. Requests under
// /api/projects/:id are attached to that project.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) {
			c.Next()
			return
		}

		body := captureBody(c)
		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), c.Request.Method)
		userID := GetUserID(c)

		details := map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		}
		if body != nil {
			details["body"] = body
		}

		entry := &services.AuditEntry{
			Module:    module,
			Action:    action,
			Message:   formatAuditMessage(userID, c.Request.Method, c.Request.URL.Path, status),
			UserID:    userID,
			ProjectID: auditProjectID(c),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Details:   details,
		}
		if status >= http.StatusBadRequest {
			services.AuditWarning(entry)
			return
		}
		services.AuditInfo(entry)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// captureBody reads up to auditBodyLimit bytes of a JSON body, restores it
// for the handler, and returns it decoded with secrets redacted. Bodies that
// are not JSON objects are skipped.
func captureBody(c *gin.Context) interface{} {
	if c.Request.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 || len(raw) > auditBodyLimit {
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return redact(decoded)
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			if redactedKeys[strings.ToLower(k)] {
				t[k] = "***"
				continue
			}
			t[k] = redact(inner)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = redact(t[i])
		}
		return t
	}
	return v
}

func auditProjectID(c *gin.Context) *uint {
	if !strings.HasPrefix(c.FullPath(), "/api/projects/:id") {
		return nil
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return nil
	}
	pid := uint(id)
	return &pid
}

// parseRouteInfo derives module and action from a route pattern:
// "/api/projects/:id/invitations/email" + POST gives
// ("projects.invitations.email", "create") and
// "/api/invitations/accept" + POST gives ("invitations", "accept").
func parseRouteInfo(fullPath, method string) (module, action string) {
	var segments []string
	for _, seg := range strings.Split(strings.TrimPrefix(fullPath, "/api/"), "/") {
		if seg == "" || seg[0] == ':' || seg[0] == '*' {
			continue
		}
		segments = append(segments, seg)
	}

	if n := len(segments); n > 1 && auditVerbs[segments[n-1]] {
		action = strings.ReplaceAll(segments[n-1], "-", "_")
		segments = segments[:n-1]
	}

	module = strings.Join(segments, ".")
	if module == "" {
		module = "unknown"
	}
	if action != "" {
		return module, action
	}

	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodPut, http.MethodPatch:
		action = "update"
	case http.MethodDelete:
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

func formatAuditMessage(userID, method, path string, status int) string {
	if userID == "" {
		userID = "anonymous"
	}
	return userID + " " + method + " " + path + " -> " + strconv.Itoa(status)
}
