package masking

import (
	"fmt"

	"srlite/internal/models"
)

// Combine returns the logical OR of all masks. Every mask must have the same
// length; a mismatch is an AlignmentError.
func Combine(masks ...[]bool) ([]bool, error) {
	if len(masks) == 0 {
		return nil, &models.AlignmentError{Reason: "no masks to combine"}
	}
	n := len(masks[0])
	out := make([]bool, n)
	for i, m := range masks {
		if len(m) != n {
			return nil, &models.AlignmentError{
				Reason: fmt.Sprintf("mask %d has %d cells, expected %d", i, len(m), n),
			}
		}
		for j, invalid := range m {
			if invalid {
				out[j] = true
			}
		}
	}
	return out, nil
}

// CombineGrids ORs the masks of grids that must all share the first grid's shape.
func CombineGrids(grids ...*models.Grid) ([]bool, error) {
	if len(grids) == 0 {
		return nil, &models.AlignmentError{Reason: "no grids to combine"}
	}
	masks := make([][]bool, len(grids))
	for i, g := range grids {
		if !g.SameShape(grids[0]) {
			return nil, &models.AlignmentError{
				Reason: fmt.Sprintf("grid %d is %dx%d, expected %dx%d", i, g.Width, g.Height, grids[0].Width, grids[0].Height),
			}
		}
		masks[i] = g.Mask
	}
	return Combine(masks...)
}

// CommonMask combines the no-data masks of a band pair with the enabled
// auxiliary masks.
func CommonMask(reference, candidate *models.Grid, aux *Auxiliary) ([]bool, error) {
	grids := []*models.Grid{reference, candidate}
	if aux != nil {
		grids = append(grids, aux.Grids()...)
	}
	return CombineGrids(grids...)
}

// Apply returns a copy of g whose mask also excludes every cell set in mask.
// Values are left untouched.
func Apply(g *models.Grid, mask []bool) (*models.Grid, error) {
	if len(mask) != g.Len() {
		return nil, &models.AlignmentError{
			Reason: fmt.Sprintf("mask has %d cells, grid has %d", len(mask), g.Len()),
		}
	}
	out := g.Clone()
	for i, invalid := range mask {
		if invalid {
			out.Mask[i] = true
		}
	}
	return out, nil
}

// PairValues returns the values of reference and candidate at every cell valid
// in both, in row-major order.
func PairValues(reference, candidate *models.Grid) (x, y []float64, err error) {
	if !reference.SameShape(candidate) {
		return nil, nil, &models.AlignmentError{
			Reason: fmt.Sprintf("reference is %dx%d, candidate is %dx%d",
				reference.Width, reference.Height, candidate.Width, candidate.Height),
		}
	}
	for i := range candidate.Data {
		if reference.Mask[i] || candidate.Mask[i] {
			continue
		}
		x = append(x, candidate.Data[i])
		y = append(y, reference.Data[i])
	}
	return x, y, nil
}
