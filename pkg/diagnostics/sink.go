// Package diagnostics receives intermediate products of a run for inspection.
//
// A Sink never influences the corrected output: the pipeline hands it grids,
// sample vectors and fitted models, and the sink logs, renders or drops them.
// Sinks are called from concurrent band-pair workers and must be safe for
// concurrent use.
package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"srlite/internal/models"
)

// DefaultBins is the number of histogram bins used by the sinks
const DefaultBins = 10

// Sink receives diagnostic products
type Sink interface {
	// Trace records named values, such as a raster attribute snapshot
	Trace(label string, fields map[string]interface{})

	// Grid records a band or mask
	Grid(label string, g *models.Grid)

	// Histogram records the distribution of values
	Histogram(label string, values []float64)

	// Fit records the samples of a band pair and the model fitted to them
	Fit(label string, x, y []float64, model models.FittedModel)
}

// NullSink discards everything
type NullSink struct{}

func (NullSink) Trace(string, map[string]interface{})                 {}
func (NullSink) Grid(string, *models.Grid)                            {}
func (NullSink) Histogram(string, []float64)                          {}
func (NullSink) Fit(string, []float64, []float64, models.FittedModel) {}

// Multi forwards every call to each of its sinks in order
type Multi []Sink

func (m Multi) Trace(label string, fields map[string]interface{}) {
	for _, s := range m {
		s.Trace(label, fields)
	}
}

func (m Multi) Grid(label string, g *models.Grid) {
	for _, s := range m {
		s.Grid(label, g)
	}
}

func (m Multi) Histogram(label string, values []float64) {
	for _, s := range m {
		s.Histogram(label, values)
	}
}

func (m Multi) Fit(label string, x, y []float64, model models.FittedModel) {
	for _, s := range m {
		s.Fit(label, x, y, model)
	}
}

// LogSink writes diagnostics as debug-level log entries
type LogSink struct {
	log  logrus.FieldLogger
	bins int
}

// NewLogSink creates a sink logging through log
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log, bins: DefaultBins}
}

func (s *LogSink) Trace(label string, fields map[string]interface{}) {
	s.log.WithFields(logrus.Fields(fields)).Debug(label)
}

func (s *LogSink) Grid(label string, g *models.Grid) {
	entry := s.log.WithFields(logrus.Fields{
		"size":  fmt.Sprintf("%dx%d", g.Width, g.Height),
		"valid": g.CountValid(),
	})
	if values := g.ValidValues(); len(values) > 0 {
		lo, hi := floats.Min(values), floats.Max(values)
		entry = entry.WithFields(logrus.Fields{
			"min":  lo,
			"max":  hi,
			"mean": stat.Mean(values, nil),
		})
	}
	entry.Debug(label)
}

func (s *LogSink) Histogram(label string, values []float64) {
	dividers, counts := HistogramCounts(values, s.bins)
	if counts == nil {
		s.log.WithField("count", 0).Debug(label)
		return
	}
	s.log.WithFields(logrus.Fields{
		"count":    len(values),
		"range":    fmt.Sprintf("[%g, %g]", dividers[0], dividers[len(dividers)-1]),
		"counts":   counts,
		"dividers": dividers,
	}).Debug(label)
}

func (s *LogSink) Fit(label string, x, y []float64, model models.FittedModel) {
	s.log.WithFields(logrus.Fields{
		"method":    model.Method.String(),
		"intercept": model.Intercept,
		"slope":     model.Slope,
		"score":     model.Score,
		"samples":   len(x),
	}).Debug(label)
}

// HistogramCounts bins values into bins equal-width bins spanning their range.
// It returns nil slices for empty input. NaN and infinite values are ignored.
func HistogramCounts(values []float64, bins int) (dividers, counts []float64) {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 || bins < 1 {
		return nil, nil
	}
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi == lo {
		hi = lo + 1
	}
	// the last divider is exclusive, nudge it past the maximum
	hi = math.Nextafter(hi, math.Inf(1))

	dividers = floats.Span(make([]float64, bins+1), lo, hi)
	counts = stat.Histogram(nil, dividers, sorted, nil)
	return dividers, counts
}
