// Package validate holds the structural checks an analysis request must pass
// before admission. Checks are pure and independently callable; the request
// orchestrator collects every violation instead of failing fast.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/verdantai/croplens/internal/sanitize"
)

// Domain constants. Fixed, not runtime-configurable.
const MaxImageBytes = 10 << 20

const (
	TemperatureMin = -50.0
	TemperatureMax = 60.0
	HumidityMin    = 0.0
	HumidityMax    = 100.0
)

var cropTypes = map[string]struct{}{
	"tomato":  {},
	"potato":  {},
	"wheat":   {},
	"corn":    {},
	"soybean": {},
	"grape":   {},
	"apple":   {},
}

var imageMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

var dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.*)$`)

// FieldError describes one violated constraint. A request may carry zero or
// many; they are aggregated and surfaced together.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CropType fails unless v is a string whose lower-cased, trimmed form names a
// supported crop.
func CropType(v any) *FieldError {
	s, ok := v.(string)
	if !ok {
		return fieldErr("cropType", "cropType must be a string")
	}
	normalized := strings.ToLower(strings.TrimSpace(s))
	if _, ok := cropTypes[normalized]; !ok {
		e := fieldErr("cropType", "unsupported crop type %q", normalized)
		e.Value = s
		return e
	}
	return nil
}

// SupportedCrops returns the accepted crop names, for error messages and docs.
func SupportedCrops() []string {
	out := make([]string, 0, len(cropTypes))
	for c := range cropTypes {
		out = append(out, c)
	}
	return out
}

// ImageMime fails unless the lower-cased MIME type is a supported image type.
func ImageMime(mimetype string) *FieldError {
	if _, ok := imageMimeTypes[strings.ToLower(strings.TrimSpace(mimetype))]; !ok {
		e := fieldErr("image", "unsupported image type %q; expected one of image/jpeg, image/jpg, image/png, image/webp", mimetype)
		e.Value = mimetype
		return e
	}
	return nil
}

// ImageSize fails when the byte count is non-positive or exceeds the ceiling.
func ImageSize(bytes float64) *FieldError {
	if bytes <= 0 {
		return fieldErr("image", "image payload is empty")
	}
	if bytes > MaxImageBytes {
		e := fieldErr("image", "image exceeds maximum size of %d bytes", MaxImageBytes)
		e.Value = bytes
		return e
	}
	return nil
}

// Weather range-checks each present field of an optional weather record.
// Absence of the record or of any individual field is not an error.
func Weather(record map[string]any) []FieldError {
	if record == nil {
		return nil
	}
	var errs []FieldError

	if v, present := record["temperature"]; present {
		if n, ok := numeric(v); !ok {
			errs = append(errs, *fieldErr("weather.temperature", "temperature must be a number"))
		} else if n < TemperatureMin || n > TemperatureMax {
			e := fieldErr("weather.temperature", "temperature must be between %.0f and %.0f °C", TemperatureMin, TemperatureMax)
			e.Value = n
			errs = append(errs, *e)
		}
	}
	if v, present := record["humidity"]; present {
		if n, ok := numeric(v); !ok {
			errs = append(errs, *fieldErr("weather.humidity", "humidity must be a number"))
		} else if n < HumidityMin || n > HumidityMax {
			e := fieldErr("weather.humidity", "humidity must be between %.0f and %.0f %%", HumidityMin, HumidityMax)
			e.Value = n
			errs = append(errs, *e)
		}
	}
	if v, present := record["windSpeed"]; present {
		if n, ok := numeric(v); !ok {
			errs = append(errs, *fieldErr("weather.windSpeed", "windSpeed must be a number"))
		} else if n < 0 {
			e := fieldErr("weather.windSpeed", "windSpeed cannot be negative")
			e.Value = n
			errs = append(errs, *e)
		}
	}
	return errs
}

// DataURL splits a base64 data URL into its MIME type and an approximate
// decoded byte size (len(payload) * 3 / 4; off by at most 2 bytes of padding,
// which is acceptable for a ceiling check).
func DataURL(raw string) (mime string, bytes float64, ok bool) {
	m := dataURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", 0, false
	}
	return m[1], float64(len(m[2])) * 3 / 4, true
}

// AnalysisRequest runs every applicable check against a decoded request body
// and returns the complete set of violations. It is collect-all, not
// fail-fast: a caller fixing one field at a time sees every error in one
// round trip. On success the free-text fields (notes, location) are sanitized
// in place before the body is forwarded.
func AnalysisRequest(body map[string]any) []FieldError {
	var errs []FieldError

	cropValue, hasCrop := body["cropType"]
	if !hasCrop {
		errs = append(errs, *fieldErr("cropType", "cropType is required"))
	} else if e := CropType(cropValue); e != nil {
		errs = append(errs, *e)
	}

	if imageValue, present := body["image"]; present {
		raw, isString := imageValue.(string)
		if !isString {
			errs = append(errs, *fieldErr("image", "image must be a base64 data URL string"))
		} else if mime, size, ok := DataURL(raw); !ok {
			errs = append(errs, *fieldErr("image", "image must be a base64 data URL (data:<mime>;base64,...)"))
		} else {
			if e := ImageMime(mime); e != nil {
				errs = append(errs, *e)
			}
			if e := ImageSize(size); e != nil {
				errs = append(errs, *e)
			}
		}
	}

	if weatherValue, present := body["weather"]; present {
		record, isMap := weatherValue.(map[string]any)
		if !isMap {
			errs = append(errs, *fieldErr("weather", "weather must be an object"))
		} else {
			errs = append(errs, Weather(record)...)
		}
	}

	if len(errs) > 0 {
		return errs
	}

	// Sanitize exactly once per field, and only on the admitted path.
	if v, present := body["notes"]; present {
		body["notes"] = sanitize.CleanField(v)
	}
	if v, present := body["location"]; present {
		switch loc := v.(type) {
		case string:
			body["location"] = sanitize.Clean(loc)
		default:
			body["location"] = sanitize.CleanValue(loc)
		}
	}
	return nil
}

// numeric accepts the numeric representations a decoded JSON body can carry.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
