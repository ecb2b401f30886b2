package domain

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"photo.jpg", "photo.jpg"},
		// Точки сохраняются, режутся только краевые дефисы
		{"../../etc/passwd", "..-..-etc-passwd"},
		{"my photo (1).png", "my-photo-1-.png"},
		{"///", "upload.bin"},
		{"", "upload.bin"},
		{"кириллица.jpg", ".jpg"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanFilename(tc.in), "input %q", tc.in)
	}
}

func TestCleanFilenameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 1000) + ".jpg"
	assert.Len(t, CleanFilename(long), MaxFilenameLen)
}

func TestCleanStringTrimsAndCaps(t *testing.T) {
	assert.Equal(t, "hello", CleanString("  hello  ", 100))
	assert.Equal(t, "ab", CleanString("abcdef", 2))
	assert.Equal(t, "", CleanString("   ", 100))
}

func TestSanitizeLocationValid(t *testing.T) {
	acc := 25.123456
	loc := SanitizeLocation(&Location{
		Latitude:   55.7558123456789,
		Longitude:  37.6173,
		AccuracyM:  &acc,
		CapturedAt: "2026-08-27T10:00:00Z",
	})

	require.NotNil(t, loc)
	// Координаты округляются до шести знаков
	assert.Equal(t, 55.755812, loc.Latitude)
	assert.Equal(t, 37.6173, loc.Longitude)
	require.NotNil(t, loc.AccuracyM)
	assert.Equal(t, 25.12, *loc.AccuracyM)
	assert.Equal(t, "2026-08-27T10:00:00Z", loc.CapturedAt)
}

func TestSanitizeLocationRejectsOutOfRange(t *testing.T) {
	assert.Nil(t, SanitizeLocation(&Location{Latitude: 91, Longitude: 0}))
	assert.Nil(t, SanitizeLocation(&Location{Latitude: 0, Longitude: -181}))
	assert.Nil(t, SanitizeLocation(&Location{Latitude: math.NaN(), Longitude: 0}))
	assert.Nil(t, SanitizeLocation(&Location{Latitude: 0, Longitude: math.Inf(1)}))
	assert.Nil(t, SanitizeLocation(nil))
}

func TestSanitizeLocationClampsAccuracy(t *testing.T) {
	huge := 99999.0
	loc := SanitizeLocation(&Location{Latitude: 1, Longitude: 1, AccuracyM: &huge})
	require.NotNil(t, loc)
	require.NotNil(t, loc.AccuracyM)
	assert.Equal(t, MaxLocationAccuracyM, *loc.AccuracyM)

	// Отрицательная точность отбрасывается, но локация остается
	negative := -5.0
	loc = SanitizeLocation(&Location{Latitude: 1, Longitude: 1, AccuracyM: &negative})
	require.NotNil(t, loc)
	assert.Nil(t, loc.AccuracyM)
}

func TestSanitizeLocationTruncatesCapturedAt(t *testing.T) {
	loc := SanitizeLocation(&Location{
		Latitude:   1,
		Longitude:  1,
		CapturedAt: strings.Repeat("x", 100),
	})
	require.NotNil(t, loc)
	assert.Len(t, loc.CapturedAt, MaxCapturedAtLen)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.5, ClampConfidence(0.5))
	assert.Equal(t, 0.0, ClampConfidence(-1))
	assert.Equal(t, 1.0, ClampConfidence(42))
	assert.Equal(t, DefaultConfidenceThreshold, ClampConfidence(math.NaN()))
}
