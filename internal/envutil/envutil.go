package envutil

import (
	"os"
	"strings"
)

// EnvVar selects the runtime environment
const EnvVar = "DOCSITE_ENV"

// IsDev checks if we're running in development mode, where error details are
// exposed to the browser and cookies are not marked Secure
func IsDev() bool {
	env := strings.ToLower(os.Getenv(EnvVar))
	return env == "development" || env == "dev"
}

// Name returns the normalized environment name, "production" when unset
func Name() string {
	if IsDev() {
		return "development"
	}
	return "production"
}
