package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Format identifies a plan document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
}

// LoadFile reads, decodes, normalizes and validates a plan file.
func LoadFile(path string) (IncentivePlan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return IncentivePlan{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return IncentivePlan{}, fmt.Errorf("read plan file: %w", err)
	}
	p, err := Parse(data, format)
	if err != nil {
		return IncentivePlan{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan document, then normalizes and validates it.
func Parse(data []byte, format Format) (IncentivePlan, error) {
	var p IncentivePlan

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return IncentivePlan{}, fmt.Errorf("decode json plan: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return IncentivePlan{}, fmt.Errorf("decode yaml plan: %w", err)
		}
	case FormatCUE:
		js, err := cueToJSON(data)
		if err != nil {
			return IncentivePlan{}, err
		}
		return Parse(js, FormatJSON)
	default:
		return IncentivePlan{}, fmt.Errorf("unsupported plan format %q", format)
	}

	p = Normalize(p)
	if err := Validate(p); err != nil {
		return IncentivePlan{}, err
	}
	return p, nil
}

// cueToJSON evaluates a CUE plan document. The plan is read from a
// top-level "plan" field when present, otherwise from the root value, and
// must be fully concrete.
func cueToJSON(data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile cue plan: %s", cueErrorDetails(err))
	}

	if nested := value.LookupPath(cue.ParsePath("plan")); nested.Exists() {
		value = nested
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("cue plan is not concrete: %s", cueErrorDetails(err))
	}

	js, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export cue plan: %s", cueErrorDetails(err))
	}
	return js, nil
}

func cueErrorDetails(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
