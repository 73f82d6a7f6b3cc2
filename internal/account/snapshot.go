// Package account manages saved Xtream accounts: validation, verification
// against the portal, persistence, refresh, and the playlist files generated
// for each account.
package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

// Snapshot is one saved account as persisted in accounts.json. Status
// fields are server-reported and only change on verify or refresh.
type Snapshot struct {
	AccountID      string    `json:"id"`
	Name           string    `json:"name"`
	Host           string    `json:"host"`
	Port           int       `json:"port,omitempty"`
	UseHTTPS       bool      `json:"https,omitempty"`
	Username       string    `json:"username"`
	Password       string    `json:"password,omitempty"`
	PasswordSealed string    `json:"password_sealed,omitempty"`
	Status         string    `json:"status,omitempty"`
	ExpiresAt      time.Time `json:"exp_date"`
	ActiveConns    int       `json:"active_cons"`
	MaxConns       int       `json:"max_connections"`
	Trial          bool      `json:"is_trial,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Source returns the fetchable identity for this account.
func (s *Snapshot) Source() source.XtreamAccount {
	return source.XtreamAccount{
		AccountID: s.AccountID,
		Host:      s.Host,
		Port:      s.Port,
		UseHTTPS:  s.UseHTTPS,
		Username:  s.Username,
		Password:  s.Password,
	}
}

// State describes where an account sits in its lifecycle. Stale is
// advisory: a stale catalog still serves until the next refresh.
type State string

const (
	Unverified State = "unverified"
	Active     State = "active"
	Stale      State = "stale"
)

// StateOf derives the lifecycle state from the last successful fetch time.
func StateOf(s *Snapshot, staleAfter time.Duration, now time.Time) State {
	if s.FetchedAt.IsZero() {
		return Unverified
	}
	if staleAfter > 0 && now.Sub(s.FetchedAt) > staleAfter {
		return Stale
	}
	return Active
}

// FormatInfo renders the server-reported account details for display.
func (s *Snapshot) FormatInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account:     %s\n", s.Name)
	fmt.Fprintf(&b, "Server:      %s\n", s.Source().BaseURL())
	fmt.Fprintf(&b, "Username:    %s\n", s.Username)
	status := s.Status
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(&b, "Status:      %s\n", status)
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "Expires:     %s\n", s.ExpiresAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Connections: %d/%d\n", s.ActiveConns, s.MaxConns)
	if s.Trial {
		b.WriteString("Trial:       yes\n")
	}
	if !s.FetchedAt.IsZero() {
		fmt.Fprintf(&b, "Fetched:     %s\n", s.FetchedAt.Format(time.RFC3339))
	}
	return b.String()
}

// Input is what the user supplies when adding an account.
type Input struct {
	Name     string `validate:"required" message:"required:name is required"`
	Host     string `validate:"required" message:"required:host is required"`
	Port     int    `validate:"min:0|max:65535" message:"port must be between 0 and 65535"`
	UseHTTPS bool
	Username string `validate:"required" message:"required:username is required"`
	Password string `validate:"required" message:"required:password is required"`
}

// Validate checks the input before any network work happens.
func (in Input) Validate() error {
	v := validate.Struct(in)
	if v.Validate() {
		return nil
	}
	for field, msgs := range v.Errors {
		for _, msg := range msgs {
			return &source.ValidationError{Field: strings.ToLower(field), Msg: msg}
		}
	}
	return &source.ValidationError{Msg: v.Errors.One()}
}
