// Package bandmatch resolves named band pairs into band indices of the
// reference and candidate rasters.
package bandmatch

import (
	"fmt"

	"srlite/internal/models"
	"srlite/pkg/config"
	"srlite/pkg/rasterstore"
)

// Match resolves each declared pair against the two rasters, preserving
// declaration order.
//
// A band whose description equals the declared name matches it exactly. A
// raster in which no band carries a description is matched positionally: the
// i-th declared pair maps to band i+1. A pair left unresolved on either side is
// a ConfigurationError.
func Match(pairs []config.BandNamePair, reference, candidate rasterstore.Raster) ([]models.BandPair, error) {
	if len(pairs) == 0 {
		return nil, &models.ConfigurationError{Pair: "[]", Reason: "no band pairs declared"}
	}

	refPositional := !hasDescriptions(reference)
	candPositional := !hasDescriptions(candidate)

	resolved := make([]models.BandPair, 0, len(pairs))
	for i, p := range pairs {
		refIdx := resolve(reference, p.Reference, i, refPositional)
		candIdx := resolve(candidate, p.Candidate, i, candPositional)

		if refIdx < 0 {
			return nil, &models.ConfigurationError{
				Pair:   p.String(),
				Reason: fmt.Sprintf("band %q not found in %s (verify name and case)", p.Reference, reference.Path()),
			}
		}
		if candIdx < 0 {
			return nil, &models.ConfigurationError{
				Pair:   p.String(),
				Reason: fmt.Sprintf("band %q not found in %s (verify name and case)", p.Candidate, candidate.Path()),
			}
		}

		resolved = append(resolved, models.BandPair{
			ReferenceIndex: refIdx,
			CandidateIndex: candIdx,
			ReferenceName:  p.Reference,
			CandidateName:  p.Candidate,
		})
	}
	return resolved, nil
}

// hasDescriptions reports whether any band of r carries a description
func hasDescriptions(r rasterstore.Raster) bool {
	for b := 1; b <= r.BandCount(); b++ {
		if r.BandDescription(b) != "" {
			return true
		}
	}
	return false
}

// resolve returns the 1-based band index for name, or -1
func resolve(r rasterstore.Raster, name string, pairIndex int, positional bool) int {
	if positional {
		if pairIndex+1 <= r.BandCount() {
			return pairIndex + 1
		}
		return -1
	}
	for b := 1; b <= r.BandCount(); b++ {
		if r.BandDescription(b) == name {
			return b
		}
	}
	return -1
}

// Descriptions returns the output band descriptions for the resolved pairs:
// the candidate band names, in order.
func Descriptions(pairs []models.BandPair) []string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.CandidateName
	}
	return names
}
