// Package mapping loads per-provider field mappings: which source column
// carries each canonical occurrence attribute. Mappings are data, not code,
// so adding a provider means editing mappings.yaml, not recompiling.
package mapping

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Canonical attribute names. A provider mapping may omit any attribute not
// in requiredAttrs, meaning "unavailable for this source".
const (
	AttrSpecies          = "species"
	AttrLongitude        = "longitude"
	AttrLatitude         = "latitude"
	AttrPrivateLongitude = "private_longitude"
	AttrPrivateLatitude  = "private_latitude"
	AttrUniqueID         = "unique_id"
	AttrDate             = "date"
	AttrYear             = "year"
	AttrMonth            = "month"
	AttrDay              = "day"
	AttrAccuracy         = "accuracy"
	AttrObscured         = "obscured"
	AttrQualityGrade     = "quality_grade"
	AttrBasisOfRecord    = "basis_of_record"
	AttrURI              = "uri"
	AttrIndividualCount  = "individual_count"
	AttrInstitutionCode  = "institution_code"
)

var requiredAttrs = []string{AttrSpecies, AttrLongitude, AttrLatitude, AttrUniqueID}

var knownAttrs = map[string]bool{
	AttrSpecies: true, AttrLongitude: true, AttrLatitude: true,
	AttrPrivateLongitude: true, AttrPrivateLatitude: true,
	AttrUniqueID: true, AttrDate: true, AttrYear: true, AttrMonth: true,
	AttrDay: true, AttrAccuracy: true, AttrObscured: true,
	AttrQualityGrade: true, AttrBasisOfRecord: true, AttrURI: true,
	AttrIndividualCount: true, AttrInstitutionCode: true,
}

// Fields maps canonical attribute → source column name for one provider.
type Fields map[string]string

// Set holds the mappings for all configured providers, keyed by source name.
type Set map[string]Fields

// Load reads and validates a mappings YAML file.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read %s", path)
	}
	return Parse(data)
}

// Parse decodes mapping YAML and validates every provider entry.
func Parse(data []byte) (Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, eris.Wrap(err, "mapping: unmarshal")
	}

	for source, fields := range set {
		for attr := range fields {
			if !knownAttrs[attr] {
				return nil, eris.Errorf("mapping: source %q maps unknown attribute %q", source, attr)
			}
		}
		for _, attr := range requiredAttrs {
			if fields[attr] == "" {
				return nil, eris.Errorf("mapping: source %q missing required attribute %q", source, attr)
			}
		}
	}

	return set, nil
}

// For returns the field mapping for a source. A missing mapping is a fatal
// configuration error: no record from that source can be processed.
func (s Set) For(source string) (Fields, error) {
	f, ok := s[source]
	if !ok {
		return nil, eris.Errorf("mapping: no field mapping configured for source %q", source)
	}
	return f, nil
}

// Row resolves canonical attributes against one parsed input row.
type Row struct {
	fields Fields
	colIdx map[string]int
	cells  []string
}

// NewRow binds a header and field mapping for repeated cell lookups.
// Column matching is case-insensitive to tolerate header drift across dumps.
func NewRow(fields Fields, header []string) *Row {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return &Row{fields: fields, colIdx: idx}
}

// Reset points the Row at the next record's cells.
func (r *Row) Reset(cells []string) {
	r.cells = cells
}

// Get returns the trimmed cell value for a canonical attribute, or "" when
// the attribute is unmapped or the column is absent from this record.
func (r *Row) Get(attr string) string {
	col := r.fields[attr]
	if col == "" {
		return ""
	}
	i, ok := r.colIdx[strings.ToLower(col)]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Has reports whether the source maps the canonical attribute at all.
func (r *Row) Has(attr string) bool {
	return r.fields[attr] != ""
}
