// Package options implements the pipeline options merge lattice and the
// fixed profile definitions. Caller-supplied options win over the calling
// key's defaults, which win over the tenant's defaults, which win over the
// system default — except export lists, which a profile fully replaces.
// Merge never mutates its inputs; it always returns a new value.
package options

import (
	"encoding/json"
	"fmt"
)

// Options is the validated, merged options blob stored on an IngestionJob.
type Options struct {
	MaxNumPages  int      `json:"max_num_pages"`
	MaxFileSize  int64    `json:"max_file_size"`
	Exports      []string `json:"exports"`
	OCR          bool     `json:"ocr"`
	OCRLanguages []string `json:"ocr_languages"`
}

// validExportKinds mirrors the non-canonical artifact kinds — "docling_json"
// is always produced by the convert stage and is never a caller-selectable
// export.
var validExportKinds = map[string]bool{
	"markdown":     true,
	"text":         true,
	"doctags":      true,
	"chunks_json":  true,
	"figures_zip":  true,
}

// Profile bundles a pipeline-options overlay with a fixed export list.
// Pipeline options the caller supplied are retained under a profile;
// exports are always fully replaced by the profile's list.
type Profile struct {
	Name            string
	PipelineOptions Options
	Exports         []string
}

// Profiles is the fixed set of named option bundles: fast_text, ocr_only,
// structured, full_vlm.
var Profiles = map[string]Profile{
	"fast_text": {
		Name:            "fast_text",
		PipelineOptions: Options{OCR: false},
		Exports:         []string{"text", "markdown", "doctags"},
	},
	"ocr_only": {
		Name:            "ocr_only",
		PipelineOptions: Options{OCR: true, OCRLanguages: []string{"en"}},
		Exports:         []string{"text"},
	},
	"structured": {
		Name:            "structured",
		PipelineOptions: Options{OCR: false},
		Exports:         []string{"markdown", "chunks_json"},
	},
	"full_vlm": {
		Name:            "full_vlm",
		PipelineOptions: Options{OCR: true, OCRLanguages: []string{"en"}},
		Exports:         []string{"markdown", "text", "doctags", "chunks_json", "figures_zip"},
	},
}

// ValidProfile reports whether name is one of the fixed profile names, or
// empty (no profile requested).
func ValidProfile(name string) bool {
	if name == "" {
		return true
	}
	_, ok := Profiles[name]
	return ok
}

// Merge resolves the effective options from caller override, key default,
// tenant default, and system default, in that priority order, then — if a
// profile is named — replaces the exports list with the profile's and
// applies the profile's pipeline-options overlay under the caller's values.
// None of the inputs are mutated.
func Merge(caller, keyDefault, tenantDefault, systemDefault Options, profileName string) Options {
	result := systemDefault
	result = overlay(result, tenantDefault)
	result = overlay(result, keyDefault)
	result = overlay(result, caller)

	if profileName != "" {
		if profile, ok := Profiles[profileName]; ok {
			merged := overlay(overlay(result, profile.PipelineOptions), caller)
			merged.Exports = append([]string(nil), profile.Exports...)
			result = merged
		}
	}
	return result
}

// overlay returns base with every non-zero field of override applied on top.
func overlay(base, override Options) Options {
	out := base
	if override.MaxNumPages != 0 {
		out.MaxNumPages = override.MaxNumPages
	}
	if override.MaxFileSize != 0 {
		out.MaxFileSize = override.MaxFileSize
	}
	if len(override.Exports) > 0 {
		out.Exports = append([]string(nil), override.Exports...)
	}
	if override.OCR {
		out.OCR = override.OCR
	}
	if len(override.OCRLanguages) > 0 {
		out.OCRLanguages = append([]string(nil), override.OCRLanguages...)
	}
	return out
}

// Validate checks non-negative page/size caps and that every requested
// export is drawn from the non-json artifact kinds. It returns a field→message
// map (nil if valid) for the INVALID_OPTIONS error envelope's details.
func Validate(o Options) map[string]string {
	errs := map[string]string{}
	if o.MaxNumPages < 0 {
		errs["max_num_pages"] = "must be a non-negative integer"
	}
	if o.MaxFileSize < 0 {
		errs["max_file_size"] = "must be a non-negative integer"
	}
	for _, kind := range o.Exports {
		if !validExportKinds[kind] {
			errs["exports"] = fmt.Sprintf("unknown export kind %q", kind)
			break
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ParseJSON unmarshals a caller-supplied options_json blob, returning a zero
// Options on empty input.
func ParseJSON(raw string) (Options, error) {
	if raw == "" {
		return Options{}, nil
	}
	var o Options
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return Options{}, fmt.Errorf("options: parse: %w", err)
	}
	return o, nil
}

// MarshalJSON serializes Options for storage on the job row.
func MarshalJSON(o Options) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("options: marshal: %w", err)
	}
	return string(b), nil
}
