// Package prediction applies fitted band models to full-resolution candidate
// bands and assembles the predicted bands into an output stack.
package prediction

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"srlite/internal/models"
)

// Predict evaluates model on every cell of the full-resolution band.
//
// The result has the shape and placement of full, whatever grid the model was
// trained on. Only the band's own no-data mask is carried over; auxiliary
// masks used during training never reach the prediction.
func Predict(model models.FittedModel, full *models.Grid) *models.Grid {
	out := full.Clone()
	floats.ScaleTo(out.Data, model.Slope, full.Data)
	floats.AddConst(model.Intercept, out.Data)
	return out
}

// PredictBand predicts a band and tags it with its pair and model
func PredictBand(pair models.BandPair, model models.FittedModel, full *models.Grid) models.PredictionBand {
	return models.PredictionBand{
		Grid:  Predict(model, full),
		Pair:  pair,
		Model: model,
	}
}

// Assemble stacks bands in order into an OutputStack described by
// descriptions. Masked cells are written as noData.
func Assemble(bands []*models.Grid, descriptions []string, noData float64) (*models.OutputStack, error) {
	if len(bands) == 0 || len(bands) != len(descriptions) {
		return nil, &models.BandCountMismatchError{Bands: len(bands), Descriptions: len(descriptions)}
	}

	first := bands[0]
	stack := &models.OutputStack{
		Width:        first.Width,
		Height:       first.Height,
		Bands:        make([][]float64, len(bands)),
		Descriptions: append([]string(nil), descriptions...),
		NoData:       noData,
		Geo:          first.Geo,
		CRS:          first.CRS,
	}

	for i, b := range bands {
		if !b.SameShape(first) {
			return nil, &models.AlignmentError{
				Reason: fmt.Sprintf("output band %d is %dx%d, band 1 is %dx%d", i+1, b.Width, b.Height, first.Width, first.Height),
			}
		}
		values := make([]float64, b.Len())
		for j, v := range b.Data {
			if b.Mask[j] {
				values[j] = noData
			} else {
				values[j] = v
			}
		}
		stack.Bands[i] = values
	}

	return stack, nil
}
