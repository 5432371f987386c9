package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeProfileOverridesExports(t *testing.T) {
	caller := Options{MaxNumPages: 12, Exports: []string{"text"}}

	merged := Merge(caller, Options{}, Options{}, Options{}, "fast_text")

	assert.Equal(t, 12, merged.MaxNumPages)
	assert.Equal(t, []string{"text", "markdown", "doctags"}, merged.Exports)
}

func TestMergeLatticePriority(t *testing.T) {
	system := Options{MaxNumPages: 100, MaxFileSize: 1000}
	tenant := Options{MaxNumPages: 50}
	key := Options{MaxFileSize: 500}
	caller := Options{MaxNumPages: 10}

	merged := Merge(caller, key, tenant, system, "")

	assert.Equal(t, 10, merged.MaxNumPages)  // caller wins
	assert.Equal(t, int64(500), merged.MaxFileSize) // key wins over system
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	caller := Options{Exports: []string{"text"}}
	original := append([]string(nil), caller.Exports...)

	_ = Merge(caller, Options{}, Options{}, Options{}, "full_vlm")

	assert.Equal(t, original, caller.Exports)
}

func TestValidateRejectsNegativeAndUnknownExport(t *testing.T) {
	errs := Validate(Options{MaxNumPages: -1, Exports: []string{"bogus"}})
	require.NotNil(t, errs)
	assert.Contains(t, errs, "max_num_pages")
	assert.Contains(t, errs, "exports")
}

func TestValidateAcceptsValidOptions(t *testing.T) {
	errs := Validate(Options{MaxNumPages: 10, MaxFileSize: 1024, Exports: []string{"markdown", "text"}})
	assert.Nil(t, errs)
}

func TestParseAndMarshalRoundTrip(t *testing.T) {
	o := Options{MaxNumPages: 5, Exports: []string{"text"}, OCR: true, OCRLanguages: []string{"en", "fr"}}
	raw, err := MarshalJSON(o)
	require.NoError(t, err)

	parsed, err := ParseJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, o, parsed)
}

func TestValidProfile(t *testing.T) {
	assert.True(t, ValidProfile(""))
	assert.True(t, ValidProfile("structured"))
	assert.False(t, ValidProfile("nonexistent"))
}
