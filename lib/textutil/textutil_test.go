package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"  O'Brien,  JANE ", "o brien jane"},
		{"Jane\tDoe", "jane doe"},
		{"José Núñez", "josé núñez"},
		{"---", ""},
	}
	for _, test := range cases {
		require.Equal(t, test.out, NormalizeName(test.in), test.in)
	}
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "5551234567", NormalizePhone("+1 (555) 123-4567"))
	require.Equal(t, "1234567", NormalizePhone("123-4567"))
	require.Equal(t, "", NormalizePhone("n/a"))
}

func TestIsDigits(t *testing.T) {
	require.True(t, IsDigits("0123"))
	require.False(t, IsDigits(""))
	require.False(t, IsDigits("12a"))
	require.False(t, IsDigits("١٢٣"))
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
}
