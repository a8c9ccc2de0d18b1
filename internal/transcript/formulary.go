package transcript

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FormularyFile is the top-level structure of a clinic formulary YAML file.
// The terms supplement each patient's record lexicon during correction and
// are boosted as STT keywords, so a clinic can teach the pipeline its common
// drug and condition names once instead of per patient.
//
// Example:
//
//	formulary:
//	  name: "Riverside Family Practice"
//	terms:
//	  - metformin
//	  - lisinopril
//	  - atrial fibrillation
type FormularyFile struct {
	Formulary FormularyMeta `yaml:"formulary"`
	Terms     []string      `yaml:"terms"`
}

// FormularyMeta holds top-level metadata for a formulary.
type FormularyMeta struct {
	// Name is the clinic or list display name.
	Name string `yaml:"name"`

	// Description is a free-text summary of the list.
	Description string `yaml:"description"`
}

// LoadFormulary reads and parses a formulary YAML file from disk.
func LoadFormulary(path string) (*FormularyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open formulary %q: %w", path, err)
	}
	defer f.Close()

	ff, err := LoadFormularyFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse formulary %q: %w", path, err)
	}
	return ff, nil
}

// LoadFormularyFromReader parses formulary YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadFormularyFromReader(r io.Reader) (*FormularyFile, error) {
	var ff FormularyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown top-level keys to catch typos
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("transcript: decode formulary yaml: %w", err)
	}
	return &ff, nil
}

// CleanTerms returns the formulary terms trimmed, lowercased, and deduplicated,
// ready to append to a patient lexicon.
func (ff *FormularyFile) CleanTerms() []string {
	seen := make(map[string]struct{}, len(ff.Terms))
	out := make([]string, 0, len(ff.Terms))
	for _, t := range ff.Terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
