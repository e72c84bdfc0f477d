package cwlrunner

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"

	"github.com/cwlworks/cwlrun/internal/execution"
	"github.com/cwlworks/cwlrun/pkg/cwl"
)

// stager lazily builds the composite remote-input stager the first time a
// workflow references a non-local File/Directory location. The s3 handler is
// only registered when the default AWS credential chain resolves; workflows
// that never reference s3:// locations run fine without it.
func (r *Runner) stager(ctx context.Context) execution.Stager {
	if r.remoteStager != nil {
		return r.remoteStager
	}

	handlers := map[string]execution.Stager{
		cwl.SchemeHTTP:  execution.NewHTTPStager(execution.HTTPStagerConfig{}, &tls.Config{}),
		cwl.SchemeHTTPS: execution.NewHTTPStager(execution.HTTPStagerConfig{}, &tls.Config{}),
	}

	if s3Stager, err := execution.NewS3Stager(ctx, execution.S3StagerConfig{}); err != nil {
		r.logger.Debug("s3 stager unavailable; s3:// inputs will fail if referenced", "error", err)
	} else {
		handlers[cwl.SchemeS3] = s3Stager
	}

	r.remoteStager = execution.NewCompositeStager(handlers, execution.NewFileStager("local"))
	return r.remoteStager
}

// stageRemoteInputs downloads File/Directory inputs whose location uses a
// remote scheme (s3://, http://, https://) into a local staging directory
// and rewrites their location/path in place, so the rest of the pipeline
// only ever deals with local paths.
func (r *Runner) stageRemoteInputs(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	stageDir := filepath.Join(r.OutDir, ".staged-inputs")
	n := 0
	out, err := r.stageRemoteValue(ctx, inputs, stageDir, &n)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (r *Runner) stageRemoteValue(ctx context.Context, v any, stageDir string, n *int) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		class, _ := val["class"].(string)
		if class == "File" || class == "Directory" {
			return r.stageRemoteFileObject(ctx, val, stageDir, n)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			staged, err := r.stageRemoteValue(ctx, item, stageDir, n)
			if err != nil {
				return nil, err
			}
			out[k] = staged
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			staged, err := r.stageRemoteValue(ctx, item, stageDir, n)
			if err != nil {
				return nil, err
			}
			out[i] = staged
		}
		return out, nil
	default:
		return v, nil
	}
}

// stageRemoteFileObject stages a single File/Directory object if its
// location points at a remote scheme; local and bare-path locations are
// returned unchanged.
func (r *Runner) stageRemoteFileObject(ctx context.Context, obj map[string]any, stageDir string, n *int) (map[string]any, error) {
	loc, _ := obj["location"].(string)
	if loc == "" {
		loc, _ = obj["path"].(string)
	}
	scheme, _ := cwl.ParseLocationScheme(loc)
	if scheme != cwl.SchemeS3 && scheme != cwl.SchemeHTTP && scheme != cwl.SchemeHTTPS {
		return obj, nil
	}

	*n++
	destPath := filepath.Join(stageDir, fmt.Sprintf("%d_%s", *n, filepath.Base(loc)))
	if err := r.stager(ctx).StageIn(ctx, loc, destPath); err != nil {
		return nil, fmt.Errorf("stage remote input %s: %w", loc, err)
	}

	resolved := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		resolved[k] = v
	}
	resolved["location"] = "file://" + destPath
	resolved["path"] = destPath
	return resolved, nil
}
