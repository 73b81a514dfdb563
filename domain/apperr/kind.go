// Package apperr defines the closed error taxonomy spoken by every component
// of the resilience layer.
//
// An error kind is a value, not a type: each Kind looks up its defaults
// (severity, status, wire code, operational flag, public exposure) in a
// single table, so the central handler can switch over kinds exhaustively.
package apperr

import "net/http"

// Kind identifies the category of an application error.
type Kind string

// Error kinds.
const (
	KindValidation      Kind = "validation"
	KindAuthentication  Kind = "authentication"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not-found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate-limited"
	KindDatabase        Kind = "database"
	KindExternalService Kind = "external-service"
	KindCircuitOpen     Kind = "circuit-open"
	KindInternal        Kind = "internal"
)

// Severity ranks how bad an error is for the operator.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can compare them. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

type kindInfo struct {
	code        string
	severity    Severity
	status      int
	operational bool
	// public kinds show their curated message and extras to the caller;
	// the rest only show publicMessage.
	public        bool
	publicMessage string
}

var kindTable = map[Kind]kindInfo{
	KindValidation: {
		code: "VALIDATION_ERROR", severity: SeverityLow, status: http.StatusBadRequest,
		operational: true, public: true,
	},
	KindAuthentication: {
		code: "AUTHENTICATION_ERROR", severity: SeverityMedium, status: http.StatusUnauthorized,
		operational: true, public: true,
	},
	KindAuthorization: {
		code: "AUTHORIZATION_ERROR", severity: SeverityMedium, status: http.StatusForbidden,
		operational: true, public: true,
	},
	KindNotFound: {
		code: "NOT_FOUND", severity: SeverityLow, status: http.StatusNotFound,
		operational: true, public: true,
	},
	KindConflict: {
		code: "CONFLICT", severity: SeverityMedium, status: http.StatusConflict,
		operational: true, public: true,
	},
	KindRateLimited: {
		code: "RATE_LIMIT_EXCEEDED", severity: SeverityMedium, status: http.StatusTooManyRequests,
		operational: true, public: true,
	},
	KindDatabase: {
		code: "DATABASE_ERROR", severity: SeverityHigh, status: http.StatusInternalServerError,
		operational: false, publicMessage: "A database error occurred",
	},
	KindExternalService: {
		code: "EXTERNAL_SERVICE_ERROR", severity: SeverityHigh, status: http.StatusBadGateway,
		operational: true, publicMessage: "An upstream service failed to respond",
	},
	KindCircuitOpen: {
		code: "CIRCUIT_BREAKER_OPEN", severity: SeverityHigh, status: http.StatusServiceUnavailable,
		operational: true, publicMessage: "Service temporarily unavailable, please retry later",
	},
	KindInternal: {
		code: "INTERNAL_ERROR", severity: SeverityCritical, status: http.StatusInternalServerError,
		operational: true, publicMessage: "An unexpected error occurred",
	},
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindValidation,
		KindAuthentication,
		KindAuthorization,
		KindNotFound,
		KindConflict,
		KindRateLimited,
		KindDatabase,
		KindExternalService,
		KindCircuitOpen,
		KindInternal,
	}
}

// Valid reports whether k is part of the taxonomy.
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

func (k Kind) info() kindInfo {
	if s, ok := kindTable[k]; ok {
		return s
	}
	return kindTable[KindInternal]
}

// Code returns the stable wire code for k.
func (k Kind) Code() string { return k.info().code }

// DefaultSeverity returns the severity an error of kind k gets unless overridden.
func (k Kind) DefaultSeverity() Severity { return k.info().severity }

// DefaultStatus returns the HTTP status an error of kind k gets unless overridden.
func (k Kind) DefaultStatus() int { return k.info().status }

// DefaultOperational reports whether errors of kind k are expected conditions.
// Only database errors default to false.
func (k Kind) DefaultOperational() bool { return k.info().operational }

// Public reports whether the curated message and extras of kind k may be
// shown to the caller.
func (k Kind) Public() bool { return k.info().public }
