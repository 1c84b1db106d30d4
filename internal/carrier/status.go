package carrier

import (
	"errors"
	"strings"
)

// OperatingStatus is the registry's view of a carrier's authority.
type OperatingStatus string

const (
	StatusActive   OperatingStatus = "ACTIVE"
	StatusInactive OperatingStatus = "INACTIVE"
	StatusUnknown  OperatingStatus = "UNKNOWN"
)

// Source tells whether a Status came from the registry or the offline fallback.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Status is the outcome of a carrier verification.
type Status struct {
	MCNumber        string          `json:"mc_number,omitempty"`
	DOTNumber       string          `json:"dot_number,omitempty"`
	LegalName       string          `json:"legal_name"`
	City            string          `json:"city,omitempty"`
	State           string          `json:"state,omitempty"`
	OperatingStatus OperatingStatus `json:"operating_status"`
	OutOfService    bool            `json:"out_of_service"`
	Verified        bool            `json:"verified"`
	Source          Source          `json:"source"`
	Message         string          `json:"message,omitempty"`
}

var (
	// ErrInvalidArgument is returned when no usable identifier was supplied.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRegistryUnavailable wraps every failure to get an answer from the registry.
	ErrRegistryUnavailable = errors.New("carrier registry unavailable")
	// ErrNoCredential is returned by registry clients without an access key.
	ErrNoCredential = errors.New("carrier registry credential not configured")
)

// IDKind names the identifier used for a registry lookup.
type IDKind string

const (
	KindMC  IDKind = "mc"
	KindDOT IDKind = "dot"
)

// Identifier is a normalized MC or DOT number.
type Identifier struct {
	Kind   IDKind
	Number string
}

func (id Identifier) String() string { return string(id.Kind) + ":" + id.Number }

// NormalizeNumber strips common prefixes and separators from an MC or DOT
// number, e.g. "MC-123456" becomes "123456".
func NormalizeNumber(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, prefix := range []string{"USDOT", "DOT", "MC"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '#', ':':
			return -1
		}
		return r
	}, s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Fallback is the deterministic status returned when the registry cannot answer.
func Fallback(mc, dot string, cause error) Status {
	msg := "carrier registry unavailable, status unknown"
	if errors.Is(cause, ErrNoCredential) {
		msg = "carrier registry not configured, status unknown"
	}
	return Status{
		MCNumber:        mc,
		DOTNumber:       dot,
		OperatingStatus: StatusUnknown,
		Verified:        false,
		Source:          SourceFallback,
		Message:         msg,
	}
}
