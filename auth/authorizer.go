// Package auth decides whether a reverse connection handshake may proceed.
//
// A token may arrive in the Authorization header ("Bearer <token>") and in
// the access_token query parameter. Each source is judged on its own, then
// the two verdicts are combined.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lisuiheng/onebot-go/metrics"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderSelfID        = "X-Self-ID"
	QueryAccessToken    = "access_token"

	bearerScheme = "Bearer"
)

var ErrInvalidSelfID = errors.New("invalid X-Self-ID header")

type Authorizer struct {
	secret *string
	policy Policy
	logger *slog.Logger
}

// New 创建鉴权器。secret 为 nil 表示未配置令牌
func New(secret *string, policy Policy, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{secret: secret, policy: policy, logger: logger}
}

// Required reports whether the configuration demands a token.
func (a *Authorizer) Required() bool {
	if a.secret == nil {
		return false
	}
	return *a.secret != "" || !a.policy.IgnoreEmptyConfiguredToken
}

// CheckHeader judges a raw Authorization header value.
func (a *Authorizer) CheckHeader(raw string, present bool) Verdict {
	if !present || (raw == "" && a.policy.IgnoreEmptyProvidedToken) {
		return a.absent("no authorization header")
	}

	if strings.TrimSpace(raw) == "" {
		// 空值与 access_token= 同等对待
		if a.policy.IgnoreEmptyProvidedToken {
			return a.absent("empty authorization header")
		}
		return a.judge("", "header")
	}

	scheme, rest, found := strings.Cut(strings.TrimSpace(raw), " ")
	var token string
	switch {
	case found && strings.EqualFold(scheme, bearerScheme):
		token = strings.TrimSpace(rest)
	case a.policy.AllowNonPrefixedHeader:
		token = strings.TrimSpace(raw)
	default:
		return verdict(FormatError, nil, "authorization header is not in the form \"Bearer <token>\"")
	}

	if token == "" && a.policy.IgnoreEmptyProvidedToken {
		return a.absent("empty bearer token")
	}
	return a.judge(token, "header")
}

// CheckQuery judges a raw access_token query value.
func (a *Authorizer) CheckQuery(raw string, present bool) Verdict {
	if !present || (raw == "" && a.policy.IgnoreEmptyProvidedToken) {
		return a.absent("no access_token parameter")
	}
	return a.judge(raw, "query")
}

func (a *Authorizer) absent(diagnostic string) Verdict {
	if a.Required() {
		return verdict(RequireProvide, nil, diagnostic)
	}
	return verdict(Valid, nil, diagnostic)
}

func (a *Authorizer) judge(token, source string) Verdict {
	if !a.Required() {
		switch {
		case token == "":
			return verdict(Valid, &token, "empty "+source+" token, none required")
		case !a.policy.AllowTokenWhenNotRequired:
			return verdict(Invalid, &token, source+" token provided but none is configured")
		case a.secret != nil && token != *a.secret && !a.policy.AllowDifferentTokenIfAbsentRequired:
			return verdict(Invalid, &token, source+" token differs from the empty configured token")
		}
		return verdict(Valid, &token, source+" token accepted, none required")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(*a.secret)) == 1 {
		return verdict(Valid, &token, source+" token matches")
	}
	return verdict(Invalid, &token, source+" token does not match")
}

// Combine merges the header and query verdicts. The result does not depend on
// argument order.
func (a *Authorizer) Combine(header, query Verdict) Verdict {
	if header.Outcome == Invalid {
		return header
	}
	if query.Outcome == Invalid {
		return query
	}

	// Order by outcome so x.Outcome <= y.Outcome: Valid, FormatError, RequireProvide.
	x, y := header, query
	if x.Outcome > y.Outcome {
		x, y = y, x
	}

	switch {
	case x.Outcome == Valid && y.Outcome == Valid:
		if !x.HasToken() {
			return y
		}
		if !y.HasToken() {
			return x
		}
		if *x.Token == *y.Token {
			if a.policy.AllowMultipleIdenticalTokens {
				return verdict(Valid, x.Token, "identical tokens in header and query")
			}
			return verdict(Invalid, x.Token, "token provided in both header and query")
		}
		if a.policy.AllowDifferentTokenIfBothPresent {
			return verdict(Valid, x.Token, "different tokens in header and query accepted")
		}
		return verdict(Invalid, x.Token, "header and query tokens differ")

	case x.Outcome == Valid && y.Outcome == FormatError:
		if x.HasToken() && a.policy.AllowFormatErrorWhenBothProvided {
			return verdict(Valid, x.Token, "accepted despite malformed second token: "+y.Diagnostic)
		}
		return y

	case x.Outcome == Valid:
		return x

	default:
		// FormatError with FormatError or RequireProvide, or RequireProvide twice.
		return x
	}
}

// Authorize judges both token sources of r and logs the decision.
func (a *Authorizer) Authorize(r *http.Request) Verdict {
	headerValues := r.Header.Values(HeaderAuthorization)
	headerRaw := ""
	if len(headerValues) > 0 {
		headerRaw = headerValues[0]
	}
	queryValues, queryPresent := r.URL.Query()[QueryAccessToken]
	queryRaw := ""
	if queryPresent && len(queryValues) > 0 {
		queryRaw = queryValues[0]
	}

	h := a.CheckHeader(headerRaw, len(headerValues) > 0)
	q := a.CheckQuery(queryRaw, queryPresent)
	v := a.Combine(h, q)

	if v.OK() {
		a.logger.Debug("Handshake authorized", "remote_addr", r.RemoteAddr, "header", h, "query", q, "verdict", v)
	} else {
		metrics.AuthorizationRejectsTotal.WithLabelValues(v.Outcome.String()).Inc()
		a.logger.Warn("Handshake rejected", "remote_addr", r.RemoteAddr, "header", h, "query", q, "verdict", v)
	}
	return v
}

// ParseSelfID reads the bot account id announced by a reverse peer.
func ParseSelfID(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidSelfID)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidSelfID, value)
	}
	return id, nil
}
