package models

import (
	"fmt"
	"strings"
)

// RegressionModel selects the fitting method used for each band pair.
type RegressionModel int

const (
	OLS RegressionModel = iota
	Huber
	RMA
)

func (m RegressionModel) String() string {
	switch m {
	case OLS:
		return "ols"
	case Huber:
		return "huber"
	case RMA:
		return "rma"
	default:
		return fmt.Sprintf("RegressionModel(%d)", int(m))
	}
}

// ParseRegressionModel accepts ols, huber and rma, plus the older names
// "simple" (ols) and "robust" (huber).
func ParseRegressionModel(s string) (RegressionModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ols", "simple":
		return OLS, nil
	case "huber", "robust":
		return Huber, nil
	case "rma":
		return RMA, nil
	default:
		return 0, fmt.Errorf("unknown regression model %q (must be ols, huber or rma)", s)
	}
}
