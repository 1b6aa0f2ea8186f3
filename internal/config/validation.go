package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateConfig validates the resolved configuration and returns the first error
func ValidateConfig(cfg *Config) error {
	result := Validate(cfg)
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		return fmt.Errorf("%s: %s", first.Path, first.Message)
	}
	return nil
}

// Validate checks every rule and collects all errors and warnings
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		result.addError("PORT", "must be between 1 and 65535 (got %d)", cfg.Port)
	}

	validateIdentity(cfg.Identity, result)
	validateSession(cfg.Session, result)

	for _, redirect := range []string{cfg.Routes.AcquireTokenSuccessRedirect} {
		if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
			result.addError("ACQUIRE_TOKEN_SUCCESS_REDIRECT", "must be a local path starting with /")
		}
	}

	return result
}

func validateIdentity(id IdentityConfig, result *ValidationResult) {
	if id.ClientID == "" {
		result.addError("CLIENT_ID", "is required")
	}
	if id.ClientSecret == "" {
		result.addError("CLIENT_SECRET", "is required")
	}
	if id.TenantID == "" {
		result.addError("TENANT_ID", "is required")
	}

	cloud, err := url.Parse(id.CloudInstance)
	if err != nil || cloud.Scheme == "" || cloud.Host == "" {
		result.addError("CLOUD_INSTANCE", "must be an absolute URL")
	} else if cloud.Scheme != "https" {
		result.addWarning("CLOUD_INSTANCE", "is not served over https")
	}

	redirect, err := url.Parse(id.RedirectURI)
	if err != nil || redirect.Scheme == "" || redirect.Host == "" {
		result.addError("REDIRECT_URI", "must be an absolute URL")
	}

	if id.PostLogoutRedirectURI != "" {
		if u, err := url.Parse(id.PostLogoutRedirectURI); err != nil || u.Scheme == "" {
			result.addError("POST_LOGOUT_REDIRECT_URI", "must be an absolute URL")
		}
	}

	if id.ProviderTimeout <= 0 {
		result.addError("PROVIDER_TIMEOUT", "must be positive")
	}
}

func validateSession(s SessionConfig, result *ValidationResult) {
	if len(s.Secret) < 32 {
		result.addError("SESSION_SECRET", "must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(s.Secret))
	}
	if s.TTL <= 0 {
		result.addError("SESSION_TTL", "must be positive")
	}
	if s.CleanupInterval <= 0 {
		result.addError("SESSION_CLEANUP_INTERVAL", "must be positive")
	}

	switch s.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if s.RedisURL == "" {
			result.addError("REDIS_URL", "is required when using redis session storage")
		}
	case SessionStoreFirestore:
		if s.GCPProject == "" {
			result.addError("GCP_PROJECT", "is required when using firestore session storage")
		}
		if s.FirestoreCollection == "" {
			result.addError("FIRESTORE_COLLECTION", "is required when using firestore session storage")
		}
		if s.CleanupInterval > s.TTL {
			result.addWarning("SESSION_CLEANUP_INTERVAL", "is greater than SESSION_TTL")
		}
	default:
		result.addError("SESSION_STORE", "invalid value %q (memory, redis or firestore)", s.Store)
	}
}
