// Package regression fits the one-dimensional linear models that map
// candidate (TOA) reflectance onto reference (surface) reflectance.
//
// Three methods are supported:
//   - OLS: ordinary least squares
//   - Huber: robust regression by iteratively reweighted least squares,
//     quadratic loss for small residuals and linear beyond HuberEpsilon scaled residuals
//   - RMA: reduced major axis, a symmetric errors-in-variables fit
package regression

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"srlite/internal/models"
)

// MinViableSamples is the smallest sample count any linear fit can use
const MinViableSamples = 2

// madToSigma converts a median absolute deviation into a normal standard deviation
const madToSigma = 0.6745

// Options tunes the fitting methods
type Options struct {
	// MinSamples is the smallest accepted number of valid samples (at least 2)
	MinSamples int

	// HuberEpsilon is the scaled residual beyond which Huber loss is linear
	HuberEpsilon float64

	// MaxIterations bounds the Huber reweighting loop
	MaxIterations int

	// Tolerance is the relative coefficient change that ends the Huber loop
	Tolerance float64
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		MinSamples:    MinViableSamples,
		HuberEpsilon:  1.35,
		MaxIterations: 100,
		Tolerance:     1e-8,
	}
}

// Regressor fits y = intercept + slope*x
type Regressor interface {
	Method() models.RegressionModel
	Fit(x, y []float64) (models.FittedModel, error)
}

// New returns the regressor implementing model
func New(model models.RegressionModel, opts Options) (Regressor, error) {
	if opts.MinSamples < MinViableSamples {
		opts.MinSamples = MinViableSamples
	}
	switch model {
	case models.OLS:
		return &olsRegressor{opts: opts}, nil
	case models.Huber:
		if opts.HuberEpsilon <= 1 {
			return nil, fmt.Errorf("huber epsilon must be greater than 1, got %g", opts.HuberEpsilon)
		}
		if opts.MaxIterations < 1 {
			opts.MaxIterations = DefaultOptions().MaxIterations
		}
		return &huberRegressor{opts: opts}, nil
	case models.RMA:
		return &rmaRegressor{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unsupported regression model %s", model)
	}
}

type olsRegressor struct {
	opts Options
}

func (r *olsRegressor) Method() models.RegressionModel { return models.OLS }

func (r *olsRegressor) Fit(x, y []float64) (models.FittedModel, error) {
	if err := checkSamples(x, y, r.opts.MinSamples); err != nil {
		return models.FittedModel{}, err
	}
	if constant(x) {
		return flatModel(x, y, models.OLS), nil
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return models.FittedModel{
		Intercept:   alpha,
		Slope:       beta,
		SampleCount: len(x),
		Score:       rSquared(x, y, alpha, beta),
		Method:      models.OLS,
	}, nil
}

type huberRegressor struct {
	opts Options
}

func (r *huberRegressor) Method() models.RegressionModel { return models.Huber }

// Fit starts from the OLS solution and reweights samples by
// min(1, epsilon/|residual/scale|) until the coefficients settle. The scale is
// re-estimated each round from the median absolute deviation of the residuals.
func (r *huberRegressor) Fit(x, y []float64) (models.FittedModel, error) {
	if err := checkSamples(x, y, r.opts.MinSamples); err != nil {
		return models.FittedModel{}, err
	}
	if constant(x) {
		return flatModel(x, y, models.Huber), nil
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	residuals := make([]float64, len(x))
	weights := make([]float64, len(x))

	for iter := 0; iter < r.opts.MaxIterations; iter++ {
		for i := range x {
			residuals[i] = y[i] - (alpha + beta*x[i])
		}
		scale := medianAbsDeviation(residuals) / madToSigma
		if scale == 0 {
			// more than half the samples sit exactly on the line
			break
		}
		for i, res := range residuals {
			u := math.Abs(res) / scale
			if u <= r.opts.HuberEpsilon {
				weights[i] = 1
			} else {
				weights[i] = r.opts.HuberEpsilon / u
			}
		}

		a, b := stat.LinearRegression(x, y, weights, false)
		converged := math.Abs(a-alpha) <= r.opts.Tolerance*(1+math.Abs(alpha)) &&
			math.Abs(b-beta) <= r.opts.Tolerance*(1+math.Abs(beta))
		alpha, beta = a, b
		if converged {
			break
		}
	}

	return models.FittedModel{
		Intercept:   alpha,
		Slope:       beta,
		SampleCount: len(x),
		Score:       rSquared(x, y, alpha, beta),
		Method:      models.Huber,
	}, nil
}

type rmaRegressor struct {
	opts Options
}

func (r *rmaRegressor) Method() models.RegressionModel { return models.RMA }

// Fit uses slope = sign(r) * sd(y)/sd(x) through the means. Score is r squared.
func (r *rmaRegressor) Fit(x, y []float64) (models.FittedModel, error) {
	if err := checkSamples(x, y, r.opts.MinSamples); err != nil {
		return models.FittedModel{}, err
	}
	if constant(x) {
		return flatModel(x, y, models.RMA), nil
	}

	meanX, sdX := stat.MeanStdDev(x, nil)
	meanY, sdY := stat.MeanStdDev(y, nil)

	var slope, score float64
	if sdY > 0 {
		corr := stat.Correlation(x, y, nil)
		slope = math.Copysign(sdY/sdX, corr)
		score = corr * corr
	}

	return models.FittedModel{
		Intercept:   meanY - slope*meanX,
		Slope:       slope,
		SampleCount: len(x),
		Score:       score,
		Method:      models.RMA,
	}, nil
}

// checkSamples rejects sample sets no linear fit can use
func checkSamples(x, y []float64, minSamples int) error {
	if len(x) != len(y) {
		return &models.AlignmentError{
			Reason: fmt.Sprintf("%d candidate samples but %d reference samples", len(x), len(y)),
		}
	}
	if len(x) < minSamples {
		return &models.InsufficientDataError{Count: len(x), Reason: fmt.Sprintf("need at least %d", minSamples)}
	}
	return nil
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// flatModel is the fit of a candidate series without variance: the slope is
// undetermined, so the line is held at the reference mean.
func flatModel(x, y []float64, method models.RegressionModel) models.FittedModel {
	mean := stat.Mean(y, nil)
	return models.FittedModel{
		Intercept:   mean,
		SampleCount: len(x),
		Score:       rSquared(x, y, mean, 0),
		Method:      method,
	}
}

// rSquared is the unweighted coefficient of determination of the line.
// A constant reference series scores 1 when fitted exactly and 0 otherwise.
func rSquared(x, y []float64, alpha, beta float64) float64 {
	if stat.Variance(y, nil) == 0 {
		for i := range x {
			if alpha+beta*x[i] != y[i] {
				return 0
			}
		}
		return 1
	}
	return stat.RSquared(x, y, nil, alpha, beta)
}

func medianAbsDeviation(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	for i, v := range values {
		sorted[i] = math.Abs(v - med)
	}
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
