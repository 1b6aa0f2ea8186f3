package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDev(t *testing.T) {
	tests := []struct {
		value string
		dev   bool
	}{
		{"", false},
		{"production", false},
		{"development", true},
		{"DEV", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(EnvVar, tt.value)
			assert.Equal(t, tt.dev, IsDev())
			if tt.dev {
				assert.Equal(t, "development", Name())
			} else {
				assert.Equal(t, "production", Name())
			}
		})
	}
}
