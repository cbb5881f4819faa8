// Package router provides WiFi router integration for access control.
//
// A router is driven through a short-lived login: every blacklist or
// unblacklist call is preceded by a fresh Login, and the resulting Session is
// closed as soon as the single action completes.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnreachable covers network errors, timeouts and non-success HTTP
	// statuses. Safe to retry.
	ErrUnreachable = errors.New("router unreachable")

	// ErrRejected is an explicit refusal of a filter change by the router.
	ErrRejected = errors.New("router rejected request")

	// ErrAuthRejected means the router refused the configured credentials.
	ErrAuthRejected = errors.New("router rejected credentials")
)

// Credentials are the router administrator credentials.
type Credentials struct {
	Username string
	Password string
}

// Action is a blacklist membership change.
type Action string

const (
	// ActionBlacklist denies network access to a MAC address.
	ActionBlacklist Action = "blacklist"
	// ActionUnblacklist restores network access to a MAC address.
	ActionUnblacklist Action = "unblacklist"
)

// Gateway authenticates to a router.
type Gateway interface {
	// Login performs the router handshake and returns a session valid for
	// one logical operation.
	Login(ctx context.Context, creds Credentials) (Session, error)
}

// Session is an authenticated router session. Callers must not keep it
// beyond a single action.
type Session interface {
	// Blacklist adds a MAC address to the deny list. Already present is success.
	Blacklist(ctx context.Context, macAddress string) error

	// Unblacklist removes a MAC address from the deny list. Already absent is success.
	Unblacklist(ctx context.Context, macAddress string) error

	// Close releases the session.
	Close() error
}

// unreachable wraps err as ErrUnreachable unless it is already classified.
func unreachable(op string, err error) error {
	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrRejected) || errors.Is(err, ErrAuthRejected) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
}

// IsRetryable reports whether err is a transient router failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// NormalizeMAC converts a MAC address to lowercase colon-separated format.
// Input that is not 12 hex digits after stripping separators is returned
// lowercased and stripped, and ValidMAC reports false for it.
func NormalizeMAC(mac string) string {
	mac = strings.TrimSpace(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	mac = strings.ReplaceAll(mac, ".", "")
	mac = strings.ToLower(mac)

	if len(mac) == 12 {
		return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
			mac[0:2], mac[2:4], mac[4:6],
			mac[6:8], mac[8:10], mac[10:12])
	}

	return mac
}

// ValidMAC reports whether mac is a 48-bit hardware address in any of the
// common notations.
func ValidMAC(mac string) bool {
	n := NormalizeMAC(mac)
	if len(n) != 17 {
		return false
	}
	for i, r := range n {
		if i%3 == 2 {
			if r != ':' {
				return false
			}
			continue
		}
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// FormatMAC renders a normalised MAC address in the notation a router expects.
func FormatMAC(mac, format string) string {
	n := NormalizeMAC(mac)
	switch format {
	case "upper", "colon-upper":
		return strings.ToUpper(n)
	case "dash", "dash-lower":
		return strings.ReplaceAll(n, ":", "-")
	case "dash-upper":
		return strings.ToUpper(strings.ReplaceAll(n, ":", "-"))
	case "bare":
		return strings.ReplaceAll(n, ":", "")
	default:
		return n
	}
}
