package domain

import (
	"math"
	"regexp"
	"strings"
)

// Правила санитизации входных данных заявителя.
// Совпадают с контрактом приема: недоверенные строки режутся по длине,
// координаты приводятся к допустимым диапазонам.

var filenameCleanPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const (
	MaxNotesLen       = 2000
	MaxFilenameLen    = 255
	MaxContentTypeLen = 255
	MaxCapturedAtLen  = 40

	// MaxLocationAccuracyM — потолок для заявленной точности координат
	MaxLocationAccuracyM = 10000.0

	DefaultConfidenceThreshold = 0.5
)

// CleanFilename заменяет все подозрительные символы и гарантирует непустое имя
func CleanFilename(name string) string {
	sanitized := filenameCleanPattern.ReplaceAllString(name, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return "upload.bin"
	}
	if len(sanitized) > MaxFilenameLen {
		sanitized = sanitized[:MaxFilenameLen]
	}
	return sanitized
}

// CleanString обрезает пробелы и ограничивает длину; пустая строка остается пустой
func CleanString(value string, maxLen int) string {
	value = strings.TrimSpace(value)
	if maxLen > 0 && len(value) > maxLen {
		value = value[:maxLen]
	}
	return value
}

func coerceCoordinate(value, minimum, maximum float64) (float64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if value < minimum || value > maximum {
		return 0, false
	}
	// Шесть знаков после запятой — точность порядка 10 см, больше не храним
	return math.Round(value*1e6) / 1e6, true
}

// SanitizeLocation проверяет координаты и клампит точность.
// Невалидная локация отбрасывается целиком (nil), частичных данных не бывает.
func SanitizeLocation(loc *Location) *Location {
	if loc == nil {
		return nil
	}

	lat, okLat := coerceCoordinate(loc.Latitude, -90.0, 90.0)
	lon, okLon := coerceCoordinate(loc.Longitude, -180.0, 180.0)
	if !okLat || !okLon {
		return nil
	}

	out := &Location{Latitude: lat, Longitude: lon}

	if loc.AccuracyM != nil {
		acc := *loc.AccuracyM
		if acc > 0 && !math.IsNaN(acc) && !math.IsInf(acc, 0) {
			if acc > MaxLocationAccuracyM {
				acc = MaxLocationAccuracyM
			}
			acc = math.Round(acc*100) / 100
			out.AccuracyM = &acc
		}
	}

	if loc.CapturedAt != "" {
		captured := loc.CapturedAt
		if len(captured) > MaxCapturedAtLen {
			captured = captured[:MaxCapturedAtLen]
		}
		out.CapturedAt = captured
	}

	return out
}

// ClampConfidence приводит порог уверенности к [0,1]
func ClampConfidence(value float64) float64 {
	if math.IsNaN(value) {
		return DefaultConfidenceThreshold
	}
	return math.Max(0.0, math.Min(1.0, value))
}
