package auth

// Policy holds the flags that relax how presented tokens are judged.
type Policy struct {
	// IgnoreEmptyProvidedToken treats an empty header or query value as absent.
	IgnoreEmptyProvidedToken bool `mapstructure:"ignore_empty_provided_token"`
	// IgnoreEmptyConfiguredToken treats an empty configured token as "no token required".
	IgnoreEmptyConfiguredToken bool `mapstructure:"ignore_empty_configured_token"`
	// AllowNonPrefixedHeader compares an Authorization header without the
	// Bearer scheme as a raw token instead of rejecting it.
	AllowNonPrefixedHeader bool `mapstructure:"allow_non_prefixed_header"`
	// AllowTokenWhenNotRequired accepts a token even though none is configured.
	AllowTokenWhenNotRequired bool `mapstructure:"allow_token_when_not_required"`
	// AllowDifferentTokenIfAbsentRequired accepts a token that differs from an
	// empty configured token that was ignored.
	AllowDifferentTokenIfAbsentRequired bool `mapstructure:"allow_different_token_if_absent_required"`
	// AllowDifferentTokenIfBothPresent accepts header and query tokens that
	// were each accepted but differ from one another.
	AllowDifferentTokenIfBothPresent bool `mapstructure:"allow_different_token_if_both_present"`
	// AllowFormatErrorWhenBothProvided accepts when one source is valid and the
	// other is malformed.
	AllowFormatErrorWhenBothProvided bool `mapstructure:"allow_format_error_when_both_provided"`
	// AllowMultipleIdenticalTokens accepts the same token in both header and query.
	AllowMultipleIdenticalTokens bool `mapstructure:"allow_multiple_identical_tokens"`
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		IgnoreEmptyProvidedToken:     true,
		IgnoreEmptyConfiguredToken:   true,
		AllowTokenWhenNotRequired:    true,
		AllowMultipleIdenticalTokens: true,
	}
}
