package resolve

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/roster"
)

// Outcome classifies how a record's address was obtained.
type Outcome string

// Outcome values. Exactly one applies to each record.
const (
	OutcomeMatched         Outcome = "matched"
	OutcomeReverseGeocoded Outcome = "reverse-geocoded"
	OutcomeOSMOnly         Outcome = "osm-only"
	OutcomePartial         Outcome = "partial"
	OutcomeNoAddress       Outcome = "no-address"
	OutcomeError           Outcome = "error"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeMatched,
	OutcomeReverseGeocoded,
	OutcomeOSMOnly,
	OutcomePartial,
	OutcomeNoAddress,
	OutcomeError,
}

var (
	// ErrGeometryInvalid marks an empty or degenerate feature geometry.
	ErrGeometryInvalid = feature.ErrGeometryInvalid

	// ErrLookupFailed marks a reverse geocode that faulted or came back empty.
	ErrLookupFailed = eris.New("resolve: lookup failed")

	// ErrMatchNotFound marks a tag address with no roster entry at or above threshold.
	ErrMatchNotFound = roster.ErrMatchNotFound

	// ErrMatchAmbiguous marks a fuzzy match decided by roster order.
	ErrMatchAmbiguous = roster.ErrMatchAmbiguous

	// ErrResolutionFault marks a panic recovered while resolving one feature.
	ErrResolutionFault = eris.New("resolve: fault")
)

// Reason labels carried on records.
const (
	ReasonGeometryInvalid = "GeometryInvalid"
	ReasonLookupFailed    = "LookupFailed"
	ReasonMatchNotFound   = "MatchNotFound"
	ReasonMatchAmbiguous  = "MatchAmbiguous"
	ReasonFault           = "Fault"
)

// Record is the resolution of one feature.
type Record struct {
	FeatureID   string        `json:"feature_id"`
	Address     string        `json:"address"`
	TagAddress  string        `json:"tag_address,omitempty"`
	HouseNumber string        `json:"house_number,omitempty"`
	Street      string        `json:"street,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	Note        string        `json:"note"`
	Holder      string        `json:"holder,omitempty"`
	RosterNote  string        `json:"roster_note,omitempty"`
	Centroid    feature.Coord `json:"centroid"`
	HasCentroid bool          `json:"has_centroid"`
	Reason      string        `json:"reason,omitempty"`
}

// ReasonOf maps an error to its record reason label.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGeometryInvalid):
		return ReasonGeometryInvalid
	case errors.Is(err, ErrMatchAmbiguous):
		return ReasonMatchAmbiguous
	case errors.Is(err, ErrMatchNotFound):
		return ReasonMatchNotFound
	case errors.Is(err, ErrLookupFailed):
		return ReasonLookupFailed
	default:
		return ReasonFault
	}
}

// Count tallies records per outcome.
func Count(records []Record) map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, r := range records {
		counts[r.Outcome]++
	}
	return counts
}

// Err returns the record's failure reason as a wrapped sentinel, or nil when the record
// carries none.
func (r Record) Err() error {
	var base error
	switch r.Reason {
	case ReasonGeometryInvalid:
		base = ErrGeometryInvalid
	case ReasonLookupFailed:
		base = ErrLookupFailed
	case ReasonMatchNotFound:
		base = ErrMatchNotFound
	case ReasonMatchAmbiguous:
		base = ErrMatchAmbiguous
	case ReasonFault:
		base = ErrResolutionFault
	default:
		return nil
	}
	return eris.Wrapf(base, "feature %s: %s", r.FeatureID, r.Note)
}
