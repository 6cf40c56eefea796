package auth

import (
	"log/slog"
	"net/http"
)

// Outcome is the result of judging one or more presented tokens.
type Outcome int

const (
	Valid Outcome = iota
	Invalid
	FormatError
	RequireProvide
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case FormatError:
		return "format_error"
	case RequireProvide:
		return "require_provide"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a rejecting outcome to the status code sent to the peer.
func (o Outcome) HTTPStatus() int {
	switch o {
	case Valid:
		return http.StatusOK
	case Invalid:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Verdict is the decision for one source, or for the combination of both.
type Verdict struct {
	Outcome Outcome
	// Token is the token extracted from the source, nil when none was presented.
	Token      *string
	Diagnostic string
}

func (v Verdict) OK() bool {
	return v.Outcome == Valid
}

func (v Verdict) HasToken() bool {
	return v.Token != nil
}

// LogValue reports the verdict without the token itself.
func (v Verdict) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("outcome", v.Outcome.String()),
		slog.Bool("token_present", v.Token != nil),
		slog.String("diagnostic", v.Diagnostic),
	)
}

func verdict(o Outcome, token *string, diagnostic string) Verdict {
	return Verdict{Outcome: o, Token: token, Diagnostic: diagnostic}
}
