package regression

import (
	"errors"
	"math"
	"testing"

	"srlite/internal/models"
)

const tolerance = 1e-9

// createLine returns n samples of y = intercept + slope*x for x = 0..n-1
func createLine(n int, intercept, slope float64) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = intercept + slope*x[i]
	}
	return x, y
}

func mustNew(t *testing.T, model models.RegressionModel) Regressor {
	t.Helper()
	r, err := New(model, DefaultOptions())
	if err != nil {
		t.Fatalf("New(%s) failed: %v", model, err)
	}
	return r
}

// TestExactLine verifies every method recovers an exact linear relationship
func TestExactLine(t *testing.T) {
	x, y := createLine(16, 1.5, 2.0)

	for _, model := range []models.RegressionModel{models.OLS, models.Huber, models.RMA} {
		fit, err := mustNew(t, model).Fit(x, y)
		if err != nil {
			t.Fatalf("%s: Fit failed: %v", model, err)
		}
		if math.Abs(fit.Slope-2.0) > 1e-6 {
			t.Errorf("%s: expected slope 2.0, got %f", model, fit.Slope)
		}
		if math.Abs(fit.Intercept-1.5) > 1e-6 {
			t.Errorf("%s: expected intercept 1.5, got %f", model, fit.Intercept)
		}
		if math.Abs(fit.Score-1.0) > 1e-6 {
			t.Errorf("%s: expected score 1.0, got %f", model, fit.Score)
		}
		if fit.SampleCount != 16 {
			t.Errorf("%s: expected 16 samples, got %d", model, fit.SampleCount)
		}
		if fit.Method != model {
			t.Errorf("%s: model reports method %s", model, fit.Method)
		}
	}
}

// TestPredictBeyondTrainingRange verifies predictions are not clamped
func TestPredictBeyondTrainingRange(t *testing.T) {
	x, y := createLine(10, -3.0, 0.5)
	fit, err := mustNew(t, models.OLS).Fit(x, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	for _, v := range []float64{-1e4, -1, 0, 4.5, 9, 1e6} {
		expected := fit.Intercept + fit.Slope*v
		if math.Abs(fit.Predict(v)-expected) > tolerance*math.Max(1, math.Abs(expected)) {
			t.Errorf("Predict(%f): expected %f, got %f", v, expected, fit.Predict(v))
		}
	}
	if math.Abs(fit.Predict(1e6)-(-3.0+0.5e6)) > 1e-3 {
		t.Errorf("Predict(1e6) should extrapolate the line, got %f", fit.Predict(1e6))
	}
}

// TestHuberResistsOutlier verifies the robust fit ignores a gross outlier that OLS does not
func TestHuberResistsOutlier(t *testing.T) {
	x, y := createLine(20, 1.0, 2.0)
	y[19] = 1000

	ols, err := mustNew(t, models.OLS).Fit(x, y)
	if err != nil {
		t.Fatalf("OLS fit failed: %v", err)
	}
	huber, err := mustNew(t, models.Huber).Fit(x, y)
	if err != nil {
		t.Fatalf("Huber fit failed: %v", err)
	}

	if math.Abs(ols.Slope-2.0) < 1.0 {
		t.Fatalf("Test data should pull the OLS slope away from 2.0, got %f", ols.Slope)
	}
	if math.Abs(huber.Slope-2.0) > 1e-3 {
		t.Errorf("Expected Huber slope near 2.0, got %f", huber.Slope)
	}
	if math.Abs(huber.Intercept-1.0) > 1e-2 {
		t.Errorf("Expected Huber intercept near 1.0, got %f", huber.Intercept)
	}
}

// TestRMA verifies the reduced major axis slope sign and magnitude
func TestRMA(t *testing.T) {
	x, y := createLine(12, 5.0, -3.0)
	fit, err := mustNew(t, models.RMA).Fit(x, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if math.Abs(fit.Slope+3.0) > 1e-9 || math.Abs(fit.Intercept-5.0) > 1e-9 {
		t.Errorf("Expected y = 5 - 3x, got intercept %f slope %f", fit.Intercept, fit.Slope)
	}

	// with scatter the RMA slope is the OLS slope divided by |r|, so never smaller
	noisy := make([]float64, len(x))
	for i := range x {
		noisy[i] = x[i]
		if i%2 == 0 {
			noisy[i] += 1.5
		} else {
			noisy[i] -= 1.5
		}
	}
	ols, _ := mustNew(t, models.OLS).Fit(x, noisy)
	rma, _ := mustNew(t, models.RMA).Fit(x, noisy)
	if math.Abs(rma.Slope) < math.Abs(ols.Slope) {
		t.Errorf("Expected |RMA slope| >= |OLS slope|, got %f < %f", rma.Slope, ols.Slope)
	}
	if rma.Score <= 0 || rma.Score >= 1 {
		t.Errorf("Expected r squared in (0, 1), got %f", rma.Score)
	}
}

// TestInsufficientData verifies too few samples are rejected
func TestInsufficientData(t *testing.T) {
	for _, model := range []models.RegressionModel{models.OLS, models.Huber, models.RMA} {
		r := mustNew(t, model)
		var insufficient *models.InsufficientDataError

		if _, err := r.Fit([]float64{1}, []float64{2}); !errors.As(err, &insufficient) {
			t.Errorf("%s: expected InsufficientDataError for 1 sample, got %v", model, err)
		} else if insufficient.Count != 1 {
			t.Errorf("%s: expected count 1, got %d", model, insufficient.Count)
		}
		if _, err := r.Fit(nil, nil); !errors.As(err, &insufficient) {
			t.Errorf("%s: expected InsufficientDataError for no samples, got %v", model, err)
		}

		var alignErr *models.AlignmentError
		if _, err := r.Fit([]float64{1, 2}, []float64{1}); !errors.As(err, &alignErr) {
			t.Errorf("%s: expected AlignmentError for length mismatch, got %v", model, err)
		}
	}

	if _, err := mustNew(t, models.OLS).Fit([]float64{1, 2}, []float64{3, 5}); err != nil {
		t.Errorf("Two distinct samples should fit, got %v", err)
	}
}

// TestMinSamplesOption verifies a stricter minimum is honoured
func TestMinSamplesOption(t *testing.T) {
	opts := DefaultOptions()
	opts.MinSamples = 5
	r, err := New(models.OLS, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	x, y := createLine(4, 0, 1)
	var insufficient *models.InsufficientDataError
	if _, err := r.Fit(x, y); !errors.As(err, &insufficient) {
		t.Errorf("Expected InsufficientDataError below MinSamples, got %v", err)
	}
}

// TestConstantReference verifies a flat reference fits with slope 0 and a perfect score
func TestConstantReference(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{7, 7, 7, 7}
	for _, model := range []models.RegressionModel{models.OLS, models.RMA} {
		fit, err := mustNew(t, model).Fit(x, y)
		if err != nil {
			t.Fatalf("%s: Fit failed: %v", model, err)
		}
		if fit.Slope != 0 || fit.Intercept != 7 {
			t.Errorf("%s: expected y = 7, got intercept %f slope %f", model, fit.Intercept, fit.Slope)
		}
		if math.IsNaN(fit.Score) {
			t.Errorf("%s: score must not be NaN", model)
		}
	}
}

// TestConstantCandidate verifies a candidate band without variance still fits,
// holding the line at the reference mean
func TestConstantCandidate(t *testing.T) {
	x := make([]float64, 16)
	y := make([]float64, 16)
	for i := range x {
		x[i] = 5
		y[i] = float64(i + 1)
	}

	for _, model := range []models.RegressionModel{models.OLS, models.Huber, models.RMA} {
		fit, err := mustNew(t, model).Fit(x, y)
		if err != nil {
			t.Fatalf("%s: Fit failed: %v", model, err)
		}
		if fit.Slope != 0 || math.Abs(fit.Intercept-8.5) > tolerance {
			t.Errorf("%s: expected y = 8.5, got intercept %f slope %f", model, fit.Intercept, fit.Slope)
		}
		if math.Abs(fit.Score) > tolerance {
			t.Errorf("%s: expected score 0, got %f", model, fit.Score)
		}
		if fit.SampleCount != 16 || fit.Method != model {
			t.Errorf("%s: expected 16 samples, got %d with method %s", model, fit.SampleCount, fit.Method)
		}
		if math.Abs(fit.Predict(5)-8.5) > tolerance {
			t.Errorf("%s: expected prediction 8.5, got %f", model, fit.Predict(5))
		}
	}
}

// TestNewErrors verifies invalid options and models are rejected
func TestNewErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.HuberEpsilon = 0.5
	if _, err := New(models.Huber, opts); err == nil {
		t.Errorf("Expected error for huber epsilon <= 1")
	}
	if _, err := New(models.RegressionModel(42), DefaultOptions()); err == nil {
		t.Errorf("Expected error for unknown model")
	}
}
