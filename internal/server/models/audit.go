package models

import "time"

type AuditAction string

const (
	ActionRegister          AuditAction = "register"
	ActionLogin             AuditAction = "login"
	ActionLoginFailure      AuditAction = "login_failure"
	ActionLogout            AuditAction = "logout"
	ActionRefresh           AuditAction = "refresh"
	ActionRefreshFailure    AuditAction = "refresh_failure"
	ActionSessionRevoked    AuditAction = "session_revoked"
	ActionRedirectLogin     AuditAction = "redirect_login"
	ActionRedirectDashboard AuditAction = "redirect_dashboard"
)

// AuditEvent is one row of the user activity log. UserID is empty for
// anonymous events (failed logins, guard redirects without a token).
type AuditEvent struct {
	ID        int64       `json:"id"`
	UserID    string      `json:"userId,omitempty"`
	Action    AuditAction `json:"action"`
	IPAddress string      `json:"ip,omitempty"`
	UserAgent string      `json:"userAgent,omitempty"`
	Path      string      `json:"path,omitempty"`
	Details   string      `json:"details,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ClientInfo describes the caller of an auth operation.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}
