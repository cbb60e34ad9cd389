package dilax

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveVehicleLabel(t *testing.T) {
	testCases := []struct {
		site     string
		expected string
	}{
		{"AM484", "AMP        484"},
		{"AD806", "ADL        806"},
		{"AM1", "AMP          1"},
		{"XY123", "XY         123"},
		{"", ""},
		{"484", ""},
		{"AM", ""},
		{"???", ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.site, func(t *testing.T) {
			label := ResolveVehicleLabel(testCase.site)

			assert.Equal(t, testCase.expected, label)
			if label != "" {
				assert.Len(t, label, 14)
			}
		})
	}
}
