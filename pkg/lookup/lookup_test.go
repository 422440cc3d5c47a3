package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"voicegate-server/pkg/errors"
)

func TestLastTenDigits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain national number", "9876543210", "9876543210"},
		{"with country code", "+919876543210", "9876543210"},
		{"with spaces and dashes", "+91 98765-43210", "9876543210"},
		{"short number kept whole", "43210", "43210"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, lastTenDigits(tc.input))
		})
	}
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		name string
		full string
		want string
	}{
		{"two part name", "Sunita Patil", "Sunita"},
		{"single name", "Sunita", "Sunita"},
		{"extra spacing", "  Sunita  Vishnu  Patil ", "Sunita"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := CallerRecord{FullName: tc.full}
			assert.Equal(t, tc.want, record.FirstName())
		})
	}
}

func TestDisabledResolver(t *testing.T) {
	var resolver Resolver = Disabled{}

	_, err := resolver.ResolveCaller(context.Background(), "9876543210")
	assert.ErrorIs(t, err, errors.ErrLookupUnavailable)
}
