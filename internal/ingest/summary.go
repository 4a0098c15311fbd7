package ingest

import (
	"fmt"
	"strings"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
)

// RowError captures a failure on a single input row. Row numbers are
// 1-based and count data rows, not the header.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// Summary tallies admission outcomes for one batch. It is always
// emitted at the end of a run, including runs that abort partway.
type Summary struct {
	Processed           int `json:"processed"`
	NoCoordinates       int `json:"no_coordinates"`
	Fossils             int `json:"fossils"`
	Inaccurate          int `json:"inaccurate"`
	Duplicates          int `json:"duplicates"`
	DuplicatesUpdated   int `json:"duplicates_updated"`
	NonResearch         int `json:"non_research"`
	NonResearchDeleted  int `json:"non_research_deleted"`
	ImportedWithoutDate int `json:"imported_without_date"`
	Imported            int `json:"imported"`

	Errors []RowError `json:"errors,omitempty"`
}

func (s *Summary) AddError(row int, err error) {
	s.Errors = append(s.Errors, RowError{Row: row, Err: err.Error()})
}

// Record tallies a single admission outcome.
func (s *Summary) Record(res Result) {
	s.Processed++
	switch res.Action {
	case occurrence.ActionNew:
		s.Imported++
		if !res.HasDate {
			s.ImportedWithoutDate++
		}
	case occurrence.ActionDuplicate:
		s.Duplicates++
	case occurrence.ActionUpdated:
		s.DuplicatesUpdated++
	case occurrence.ActionDeleted:
		s.NonResearchDeleted++
	case occurrence.ActionRejectFossil:
		s.Fossils++
	case occurrence.ActionRejectNoCoords:
		s.NoCoordinates++
	case occurrence.ActionRejectInaccurate:
		s.Inaccurate++
	case occurrence.ActionRejectGrade:
		s.NonResearch++
	}
}

// String renders the summary as the multi-line report printed after a run.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed:             %d\n", s.Processed)
	fmt.Fprintf(&b, "imported:              %d\n", s.Imported)
	fmt.Fprintf(&b, "imported without date: %d\n", s.ImportedWithoutDate)
	fmt.Fprintf(&b, "duplicates:            %d\n", s.Duplicates)
	fmt.Fprintf(&b, "duplicates updated:    %d\n", s.DuplicatesUpdated)
	fmt.Fprintf(&b, "no coordinates:        %d\n", s.NoCoordinates)
	fmt.Fprintf(&b, "fossils:               %d\n", s.Fossils)
	fmt.Fprintf(&b, "inaccurate:            %d\n", s.Inaccurate)
	fmt.Fprintf(&b, "non-research:          %d\n", s.NonResearch)
	fmt.Fprintf(&b, "non-research deleted:  %d\n", s.NonResearchDeleted)
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "row errors:            %d\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  row %d: %s\n", e.Row, e.Err)
		}
	}
	return b.String()
}
