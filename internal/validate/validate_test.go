package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCropTypeAcceptsSupportedCrops(t *testing.T) {
	for _, crop := range []string{"tomato", "potato", "wheat", "corn", "soybean", "grape", "apple"} {
		require.Nil(t, CropType(crop), "crop %q should validate", crop)
	}
}

func TestCropTypeNormalizes(t *testing.T) {
	require.Nil(t, CropType("  Tomato "))
	require.Nil(t, CropType("WHEAT"))
}

func TestCropTypeRejectsUnknownAndNonString(t *testing.T) {
	e := CropType("banana")
	require.NotNil(t, e)
	require.Equal(t, "cropType", e.Field)

	require.NotNil(t, CropType(42))
	require.NotNil(t, CropType(nil))
}

func TestImageMime(t *testing.T) {
	for _, m := range []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "IMAGE/PNG"} {
		require.Nil(t, ImageMime(m), "mime %q should validate", m)
	}
	require.NotNil(t, ImageMime("image/gif"))
	require.NotNil(t, ImageMime("application/pdf"))
	require.NotNil(t, ImageMime(""))
}

func TestImageSizeBounds(t *testing.T) {
	require.NotNil(t, ImageSize(0))
	require.NotNil(t, ImageSize(-10))
	require.Nil(t, ImageSize(1))
	require.Nil(t, ImageSize(MaxImageBytes))
	require.NotNil(t, ImageSize(MaxImageBytes+1))
}

func TestWeatherBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		record map[string]any
		errs   int
	}{
		{"absent record", nil, 0},
		{"empty record", map[string]any{}, 0},
		{"temperature upper bound inclusive", map[string]any{"temperature": 60.0}, 0},
		{"temperature just above", map[string]any{"temperature": 60.0001}, 1},
		{"temperature lower bound inclusive", map[string]any{"temperature": -50.0}, 0},
		{"temperature below", map[string]any{"temperature": -51.0}, 1},
		{"humidity bounds inclusive", map[string]any{"humidity": 0.0}, 0},
		{"humidity max", map[string]any{"humidity": 100.0}, 0},
		{"humidity negative", map[string]any{"humidity": -1.0}, 1},
		{"wind speed zero", map[string]any{"windSpeed": 0.0}, 0},
		{"wind speed negative", map[string]any{"windSpeed": -0.5}, 1},
		{"non-numeric temperature", map[string]any{"temperature": "hot"}, 1},
		{"multiple violations", map[string]any{"temperature": 61.0, "humidity": 101.0}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Len(t, Weather(tc.record), tc.errs)
		})
	}
}

func TestDataURLParsing(t *testing.T) {
	payload := strings.Repeat("A", 400)
	mime, size, ok := DataURL("data:image/png;base64," + payload)
	require.True(t, ok)
	require.Equal(t, "image/png", mime)
	require.InDelta(t, float64(len(payload))*3/4, size, 2)

	_, _, ok = DataURL("not a data url")
	require.False(t, ok)
}

func TestAnalysisRequestCollectsAllErrors(t *testing.T) {
	oversized := "data:image/png;base64," + strings.Repeat("A", (MaxImageBytes/3)*4+400)
	body := map[string]any{
		"cropType": "banana",
		"image":    oversized,
	}

	errs := AnalysisRequest(body)
	require.Len(t, errs, 2, "unsupported crop and oversized image must surface together")

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	require.True(t, fields["cropType"])
	require.True(t, fields["image"])
}

func TestAnalysisRequestUnsupportedMime(t *testing.T) {
	body := map[string]any{
		"cropType": "tomato",
		"image":    "data:image/gif;base64,QUJD",
	}
	errs := AnalysisRequest(body)
	require.Len(t, errs, 1)
	require.Equal(t, "image", errs[0].Field)
	require.Contains(t, errs[0].Message, "unsupported image type")
}

func TestAnalysisRequestRequiresCropType(t *testing.T) {
	errs := AnalysisRequest(map[string]any{})
	require.Len(t, errs, 1)
	require.Equal(t, "cropType", errs[0].Field)
}

func TestAnalysisRequestSanitizesOnSuccess(t *testing.T) {
	body := map[string]any{
		"cropType": "tomato",
		"notes":    "looks wilted; DROP spray",
		"location": map[string]any{"field": "north<plot>"},
	}
	errs := AnalysisRequest(body)
	require.Empty(t, errs)

	notes := body["notes"].(string)
	require.NotContains(t, notes, ";")
	require.NotContains(t, strings.ToLower(notes), "drop")

	loc := body["location"].(map[string]any)
	require.NotContains(t, loc["field"].(string), "<")
}

func TestAnalysisRequestLeavesFieldsUntouchedOnFailure(t *testing.T) {
	body := map[string]any{
		"cropType": "banana",
		"notes":    "keep; this",
	}
	errs := AnalysisRequest(body)
	require.NotEmpty(t, errs)
	require.Equal(t, "keep; this", body["notes"])
}
