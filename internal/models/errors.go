package models

import (
	"errors"
	"fmt"
)

// ErrNoBandsProcessed is returned when every band pair of a run was skipped.
var ErrNoBandsProcessed = errors.New("no band pair produced a prediction")

// ConfigurationError reports a band pair that could not be resolved against
// the input rasters. It aborts the run before any fitting.
type ConfigurationError struct {
	Pair   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid band pair %s: %s", e.Pair, e.Reason)
}

// AlignmentError reports grids that do not share a common shape or placement.
type AlignmentError struct {
	Reason string
	Err    error
}

func (e *AlignmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("alignment error: %s: %v", e.Reason, e.Err)
	}
	return "alignment error: " + e.Reason
}

func (e *AlignmentError) Unwrap() error { return e.Err }

// MissingBandError reports an enabled auxiliary mask whose file or band is absent.
type MissingBandError struct {
	Mask string
	Path string
	Band int

	// Err is the store error when the raster itself could not be opened
	Err error
}

func (e *MissingBandError) Error() string {
	switch {
	case e.Path == "":
		return fmt.Sprintf("%s mask enabled but no raster was supplied", e.Mask)
	case e.Err != nil:
		return fmt.Sprintf("%s mask enabled but %s cannot be opened: %v", e.Mask, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s mask enabled but band %d of %s is missing", e.Mask, e.Band, e.Path)
	}
}

func (e *MissingBandError) Unwrap() error { return e.Err }

// InsufficientDataError reports a band pair with too few valid samples to fit.
// It only drops the affected band pair.
type InsufficientDataError struct {
	Pair   string
	Count  int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("insufficient data for band pair %s: %d valid samples", e.Pair, e.Count)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// BandCountMismatchError reports predictions and descriptions of different lengths.
type BandCountMismatchError struct {
	Bands        int
	Descriptions int
}

func (e *BandCountMismatchError) Error() string {
	return fmt.Sprintf("band count mismatch: %d bands, %d descriptions", e.Bands, e.Descriptions)
}

// IsSkippable reports whether err only affects a single band pair.
func IsSkippable(err error) bool {
	var insufficient *InsufficientDataError
	return errors.As(err, &insufficient)
}
