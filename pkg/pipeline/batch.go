package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"srlite/pkg/config"
)

// SceneResult is the outcome of one scene of a batch
type SceneResult struct {
	Prefix string
	Result *Result
	Err    error
}

// SingleSceneParams derives the run parameters from the input section of cfg.
// The output is named after the TOA raster with the output suffix.
func SingleSceneParams(cfg *config.Config) Params {
	base := filepath.Base(cfg.Input.TOAPath)
	prefix := strings.TrimSuffix(base, config.TOASuffix)
	if prefix == base {
		prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Params{
		TargetPath:    cfg.Input.TargetPath,
		TOAPath:       cfg.Input.TOAPath,
		CloudMaskPath: cfg.Input.CloudMaskPath,
		OutputPath:    filepath.Join(cfg.Output.Dir, prefix+cfg.Output.Suffix),
	}
}

// SceneParams derives the run parameters of a batch scene
func SceneParams(paths config.ScenePaths) Params {
	return Params{
		TargetPath:    paths.Target,
		TOAPath:       paths.TOA,
		CloudMaskPath: paths.CloudMask,
		OutputPath:    paths.Output,
	}
}

// ProcessBatch corrects every scene found in the TOA directory, one after the
// other. A failed scene is reported in its SceneResult and the batch goes on.
// Only listing failures and cancellation end the batch early.
func (p *Pipeline) ProcessBatch(ctx context.Context) ([]SceneResult, error) {
	prefixes, err := p.cfg.ScenePrefixes()
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("no *%s rasters found in %s", config.TOASuffix, p.cfg.Input.TOADir)
	}

	results := make([]SceneResult, 0, len(prefixes))
	for i, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log := p.log.WithField("scene", prefix)
		log.Infof("Scene %d/%d", i+1, len(prefixes))

		res, err := p.Process(ctx, SceneParams(p.cfg.ScenePaths(prefix)))
		if err != nil {
			log.WithError(err).Error("Scene failed")
		}
		results = append(results, SceneResult{Prefix: prefix, Result: res, Err: err})
	}
	return results, nil
}
