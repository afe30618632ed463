package core

import (
	"math"
	"strings"
	"time"
)

type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionInitializing  SessionState = "initializing"
	SessionLoggedOut     SessionState = "logged_out"
	SessionLoggedIn      SessionState = "logged_in"
)

// Identity is the user data returned by the external identity provider.
// An empty Email means the session cannot be linked to a backend user.
type Identity struct {
	ExternalID  string
	Email       string
	DisplayName string
	Metadata    map[string]any
}

func (i Identity) HasEmail() bool {
	return NormalizeEmail(i.Email) != ""
}

// DisplayNameOr returns the display name or the fallback when it is blank.
func (i Identity) DisplayNameOr(fallback string) string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(fallback)
}

func (i Identity) Equal(other Identity) bool {
	return strings.TrimSpace(i.ExternalID) == strings.TrimSpace(other.ExternalID) &&
		NormalizeEmail(i.Email) == NormalizeEmail(other.Email) &&
		strings.TrimSpace(i.DisplayName) == strings.TrimSpace(other.DisplayName)
}

func (i Identity) Clone() Identity {
	cloned := i
	cloned.Metadata = copyAnyMap(i.Metadata)
	return cloned
}

// Session is the single per-process authentication state. Version increments
// on every transition and acts as the generation token for downstream engines.
type Session struct {
	State    SessionState
	Identity *Identity
	Version  uint64
}

func (s Session) LoggedIn() bool {
	return s.State == SessionLoggedIn
}

// SyncKey returns the normalized email that drives notification and balance
// synchronization. ok is false unless the session is logged in with an email.
func (s Session) SyncKey() (string, bool) {
	if !s.LoggedIn() || s.Identity == nil {
		return "", false
	}
	email := NormalizeEmail(s.Identity.Email)
	if email == "" {
		return "", false
	}
	return email, true
}

func (s Session) Clone() Session {
	cloned := s
	if s.Identity != nil {
		identity := s.Identity.Clone()
		cloned.Identity = &identity
	}
	return cloned
}

type UserRecord struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

type EnsureUserResult struct {
	UserID  string
	Created bool
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Message   string
	Read      bool
	CreatedAt time.Time
}

type BalanceSource string

const (
	BalanceSourceNone          BalanceSource = ""
	BalanceSourceAuthoritative BalanceSource = "authoritative"
	BalanceSourceAdvisory      BalanceSource = "advisory"
)

// BalanceSnapshot is the locally committed reward balance. AsOf is a logical
// version, not a wall-clock timestamp.
type BalanceSnapshot struct {
	Value  float64
	AsOf   uint64
	Source BalanceSource
}

// ValidBalance reports whether value may be committed to a BalanceSnapshot.
func ValidBalance(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient user-facing message surfaced by the core.
type Notice struct {
	Level    NoticeLevel
	Message  string
	TextCode string
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
