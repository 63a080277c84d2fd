// Package pipeline runs the surface-reflectance correction of one scene.
//
// A run aligns the target, TOA and optional cloud-mask rasters onto the target
// grid, resolves the configured band pairs, builds the auxiliary masks once,
// then for every band pair:
//  1. combines the no-data masks of both bands with the auxiliary masks
//  2. fits a linear model from the jointly valid pixels of the aligned grid
//  3. applies the model to the full-resolution TOA band
//
// The predicted bands are assembled into one output stack and written through
// the raster store. A band pair with too few valid samples is skipped; the run
// fails only when no band pair succeeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"srlite/internal/models"
	"srlite/pkg/alignment"
	"srlite/pkg/bandmatch"
	"srlite/pkg/config"
	"srlite/pkg/diagnostics"
	"srlite/pkg/masking"
	"srlite/pkg/prediction"
	"srlite/pkg/rasterstore"
	"srlite/pkg/regression"
)

// Params names the rasters of one scene
type Params struct {
	// TargetPath is the reference raster; its grid is the training grid
	TargetPath string

	// TOAPath is the full-resolution candidate raster
	TOAPath string

	// CloudMaskPath is only read when the cloud mask is enabled
	CloudMaskPath string

	// OutputPath receives the corrected stack. Empty skips writing.
	OutputPath string
}

// SkippedPair records a band pair left out of the output
type SkippedPair struct {
	Pair models.BandPair
	Err  error
}

// Result describes a completed run
type Result struct {
	RunID      string
	OutputPath string

	// Predictions holds the successful band pairs in declaration order
	Predictions []models.PredictionBand
	Skipped     []SkippedPair

	// Masks names the auxiliary masks that were applied during training
	Masks []string

	Stack *models.OutputStack
}

// Pipeline corrects scenes with a fixed configuration
type Pipeline struct {
	cfg     *config.Config
	store   rasterstore.Store
	aligner alignment.Aligner
	sink    diagnostics.Sink
	log     logrus.FieldLogger
}

// NewPipeline creates a pipeline. A nil sink discards diagnostics and a nil
// logger uses the logrus standard logger.
func NewPipeline(cfg *config.Config, store rasterstore.Store, aligner alignment.Aligner, sink diagnostics.Sink, log logrus.FieldLogger) *Pipeline {
	if sink == nil {
		sink = diagnostics.NullSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{cfg: cfg, store: store, aligner: aligner, sink: sink, log: log}
}

// run holds the read-only state shared by the band-pair workers
type run struct {
	id  string
	log logrus.FieldLogger

	target     rasterstore.Raster
	alignedTOA rasterstore.Raster
	fullTOA    rasterstore.Raster

	pairs     []models.BandPair
	aux       *masking.Auxiliary
	regressor regression.Regressor
}

// pairResult is the outcome of one band pair
type pairResult struct {
	index      int
	prediction models.PredictionBand
	err        error
}

// Process corrects one scene
func (p *Pipeline) Process(ctx context.Context, params Params) (*Result, error) {
	if params.TargetPath == "" || params.TOAPath == "" {
		return nil, fmt.Errorf("both target and TOA rasters are required")
	}

	r := &run{id: uuid.NewString()}
	r.log = p.log.WithField("run", r.id)

	model, err := p.cfg.RegressionModel()
	if err != nil {
		return nil, err
	}
	r.regressor, err = regression.New(model, p.regressionOptions())
	if err != nil {
		return nil, err
	}

	// Step 1: align the inputs onto the target grid
	paths := []string{params.TargetPath, params.TOAPath}
	if p.cfg.Masks.Cloud {
		if err := p.checkCloudMask(params.CloudMaskPath); err != nil {
			return nil, err
		}
		paths = append(paths, params.CloudMaskPath)
	}
	p.traceInputs(r, paths)

	r.log.WithField("stage", "align").Infof("Aligning %d rasters onto %s", len(paths), params.TargetPath)
	aligned, err := p.aligner.Align(ctx, paths, alignment.Resampling(p.cfg.Processing.Resampling))
	if err != nil {
		return nil, fmt.Errorf("failed to align rasters: %w", err)
	}
	if len(aligned) != len(paths) {
		return nil, &models.AlignmentError{
			Reason: fmt.Sprintf("aligner returned %d rasters for %d inputs", len(aligned), len(paths)),
		}
	}
	r.target, r.alignedTOA = aligned[0], aligned[1]
	var cloud rasterstore.Raster
	if len(aligned) > 2 {
		cloud = aligned[2]
	}

	r.fullTOA, err = p.store.Open(params.TOAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open full-resolution TOA raster: %w", err)
	}

	// Step 2: resolve band pairs
	r.pairs, err = bandmatch.Match(p.cfg.Bands.Pairs, r.target, r.alignedTOA)
	if err != nil {
		return nil, err
	}
	for _, pair := range r.pairs {
		if pair.CandidateIndex > r.fullTOA.BandCount() {
			return nil, &models.ConfigurationError{
				Pair:   pair.String(),
				Reason: fmt.Sprintf("band %d missing from %s", pair.CandidateIndex, params.TOAPath),
			}
		}
	}
	r.log.WithField("stage", "match").Debugf("Resolved band pairs %v", r.pairs)

	// Step 3: build the shared auxiliary masks
	r.aux, err = p.buildMasks(r, cloud)
	if err != nil {
		return nil, err
	}

	// Step 4: fit and predict every band pair
	r.log.WithField("stage", "regress").Infof("Processing %d band pairs with %s regression", len(r.pairs), model)
	results, err := p.processPairs(ctx, r)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: r.id, Masks: r.aux.Enabled()}
	for _, pr := range results {
		switch {
		case pr.err == nil:
			res.Predictions = append(res.Predictions, pr.prediction)
		case models.IsSkippable(pr.err):
			r.log.WithField("pair", r.pairs[pr.index].String()).Warnf("Skipping band pair: %v", pr.err)
			res.Skipped = append(res.Skipped, SkippedPair{Pair: r.pairs[pr.index], Err: pr.err})
		default:
			return nil, pr.err
		}
	}
	if len(res.Predictions) == 0 {
		reasons := make([]string, len(res.Skipped))
		for i, s := range res.Skipped {
			reasons[i] = s.Err.Error()
		}
		return nil, fmt.Errorf("%w: %s", models.ErrNoBandsProcessed, strings.Join(reasons, "; "))
	}

	// Step 5: assemble and persist
	res.Stack, err = p.assemble(res.Predictions)
	if err != nil {
		return nil, err
	}
	if params.OutputPath != "" {
		if err := p.write(r, params.OutputPath, res.Stack); err != nil {
			return nil, err
		}
		res.OutputPath = params.OutputPath
	}

	r.log.WithFields(logrus.Fields{
		"bands":   len(res.Predictions),
		"skipped": len(res.Skipped),
		"output":  res.OutputPath,
	}).Info("Scene corrected")
	return res, nil
}

func (p *Pipeline) regressionOptions() regression.Options {
	opts := regression.DefaultOptions()
	opts.MinSamples = p.cfg.Regression.MinSamples
	opts.HuberEpsilon = p.cfg.Regression.HuberEpsilon
	opts.MaxIterations = p.cfg.Regression.MaxIterations
	return opts
}

// checkCloudMask fails with a MissingBandError when the enabled cloud mask has
// no readable raster
func (p *Pipeline) checkCloudMask(path string) error {
	if path == "" {
		return &models.MissingBandError{Mask: "cloud"}
	}
	if _, err := p.store.Open(path); err != nil {
		return &models.MissingBandError{Mask: "cloud", Path: path, Err: err}
	}
	return nil
}

// traceInputs sends an attribute snapshot of every input to the sink
func (p *Pipeline) traceInputs(r *run, paths []string) {
	if p.cfg.Output.DebugLevel < 1 {
		return
	}
	for _, path := range paths {
		raster, err := p.store.Open(path)
		if err != nil {
			r.log.WithError(err).Debugf("No attribute snapshot for %s", path)
			continue
		}
		p.sink.Trace("attributes", rasterstore.Snapshot(raster))
	}
}

// buildMasks builds the enabled auxiliary masks. Disabled masks touch no raster.
func (p *Pipeline) buildMasks(r *run, cloud rasterstore.Raster) (*masking.Auxiliary, error) {
	aux := &masking.Auxiliary{}
	var err error

	if p.cfg.Masks.Cloud {
		if aux.Cloud, err = masking.BuildCloudMask(cloud, p.cfg.Bands.CloudBand); err != nil {
			return nil, err
		}
		p.sink.Grid("cloud mask", maskGrid(aux.Cloud))
	}
	if p.cfg.Masks.Quality {
		aux.Quality, err = masking.BuildQualityMask(r.target, p.cfg.Bands.QualityBand,
			p.cfg.Masks.QualityBadCodes, p.cfg.Output.NoData)
		if err != nil {
			return nil, err
		}
		p.sink.Grid("quality mask", maskGrid(aux.Quality))
	}
	if p.cfg.Masks.Threshold {
		aux.Threshold, err = masking.BuildThresholdMask(r.alignedTOA, r.pairs[0].CandidateIndex,
			p.cfg.Masks.ThresholdMin, p.cfg.Masks.ThresholdMax)
		if err != nil {
			return nil, err
		}
		p.sink.Grid("threshold mask", maskGrid(aux.Threshold))
	}

	r.log.WithField("stage", "mask").Debugf("Auxiliary masks enabled: %v", aux.Enabled())
	return aux, nil
}

// processPairs fans the band pairs out to the configured number of workers and
// returns their results in declaration order.
func (p *Pipeline) processPairs(ctx context.Context, r *run) ([]pairResult, error) {
	numWorkers := p.cfg.Processing.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(r.pairs) {
		numWorkers = len(r.pairs)
	}

	jobs := make(chan int)
	resultChan := make(chan pairResult)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				resultChan <- p.processPair(ctx, r, idx)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range r.pairs {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]pairResult, len(r.pairs))
	completed := 0
	for res := range resultChan {
		results[res.index] = res
		completed++
		r.log.Debugf("Band pairs: %d/%d complete", completed, len(r.pairs))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// processPair masks, fits and predicts one band pair
func (p *Pipeline) processPair(ctx context.Context, r *run, idx int) pairResult {
	pair := r.pairs[idx]
	res := pairResult{index: idx}
	if res.err = ctx.Err(); res.err != nil {
		return res
	}
	log := r.log.WithField("pair", pair.String())
	label := pair.String()

	ref, err := r.target.ReadBand(pair.ReferenceIndex)
	if err != nil {
		res.err = fmt.Errorf("failed to read reference band %d: %w", pair.ReferenceIndex, err)
		return res
	}
	cand, err := r.alignedTOA.ReadBand(pair.CandidateIndex)
	if err != nil {
		res.err = fmt.Errorf("failed to read aligned candidate band %d: %w", pair.CandidateIndex, err)
		return res
	}

	common, err := masking.CommonMask(ref, cand, r.aux)
	if err != nil {
		res.err = err
		return res
	}
	ref, err = masking.Apply(ref, common)
	if err != nil {
		res.err = err
		return res
	}
	cand, err = masking.Apply(cand, common)
	if err != nil {
		res.err = err
		return res
	}
	p.sink.Grid("training candidate "+label, cand)
	p.sink.Grid("training reference "+label, ref)

	x, y, err := masking.PairValues(ref, cand)
	if err != nil {
		res.err = err
		return res
	}
	p.checkMinimum(log, label, cand)

	model, err := r.regressor.Fit(x, y)
	if err != nil {
		var insufficient *models.InsufficientDataError
		if errors.As(err, &insufficient) {
			insufficient.Pair = label
		}
		res.err = err
		return res
	}
	log.WithFields(logrus.Fields{
		"intercept": model.Intercept,
		"slope":     model.Slope,
		"score":     model.Score,
		"samples":   model.SampleCount,
	}).Info("Fitted band pair")
	p.sink.Fit("fit "+label, x, y, model)

	full, err := r.fullTOA.ReadBand(pair.CandidateIndex)
	if err != nil {
		res.err = fmt.Errorf("failed to read full-resolution candidate band %d: %w", pair.CandidateIndex, err)
		return res
	}
	res.prediction = prediction.PredictBand(pair, model, full)

	p.sink.Histogram("toa "+label, full.ValidValues())
	p.sink.Histogram("prediction "+label, res.prediction.Grid.ValidValues())
	if p.cfg.Output.DebugLevel >= 2 {
		p.sink.Grid("difference "+label, difference(res.prediction.Grid, full))
	}
	return res
}

// checkMinimum warns when the training candidate values dip below the
// configured warning threshold. The fit is unaffected.
func (p *Pipeline) checkMinimum(log logrus.FieldLogger, label string, cand *models.Grid) {
	lowest, ok := cand.Min()
	threshold := p.cfg.WarningThreshold()
	if !ok || lowest >= threshold {
		return
	}
	log.WithFields(logrus.Fields{"min": lowest, "threshold": threshold}).
		Warn("Candidate values below the expected minimum")
	p.sink.Trace("below minimum "+label, map[string]interface{}{"min": lowest, "threshold": threshold})
}

func (p *Pipeline) assemble(predictions []models.PredictionBand) (*models.OutputStack, error) {
	pairs := make([]models.BandPair, len(predictions))
	grids := make([]*models.Grid, len(predictions))
	for i, pb := range predictions {
		pairs[i] = pb.Pair
		grids[i] = pb.Grid
	}
	return prediction.Assemble(grids, bandmatch.Descriptions(pairs), p.cfg.Output.NoData)
}

func (p *Pipeline) write(r *run, path string, stack *models.OutputStack) error {
	if p.cfg.Output.Clean {
		if err := p.store.Remove(path); err != nil {
			return fmt.Errorf("failed to clean %s: %w", path, err)
		}
	}
	r.log.WithField("stage", "write").Infof("Writing %d-band stack to %s", stack.BandCount(), path)
	if err := p.store.Write(path, stack); err != nil {
		return fmt.Errorf("failed to write output stack: %w", err)
	}
	return nil
}

// maskGrid renders a mask as a grid of 1 (invalid) and 0 (valid)
func maskGrid(g *models.Grid) *models.Grid {
	out := models.NewGrid(g.Width, g.Height)
	out.Geo, out.CRS = g.Geo, g.CRS
	for i, invalid := range g.Mask {
		if invalid {
			out.Data[i] = 1
		}
	}
	return out
}

// difference returns prediction - toa, masked where either is
func difference(pred, toa *models.Grid) *models.Grid {
	out := pred.Clone()
	for i := range out.Data {
		out.Data[i] -= toa.Data[i]
		out.Mask[i] = pred.Mask[i] || toa.Mask[i]
	}
	return out
}
