package exports

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

// ShapeProbe is a diagnostic utility, not a production export path: it
// attempts candidate input shapes against a loaded stem sub-network and
// reports which ones the model accepts. It exists to reverse-engineer the
// undocumented input-tensor layout of the spectral sub-models empirically.
type ShapeProbe struct {
	model      ModelSpec
	candidates []Shape
	workDir    string
	cacheDir   string
	env        *pyenv.Env
	verbose    bool
}

// ProbeResult records one candidate attempt. A failed candidate is a caught,
// reported failure; the probe always continues to the next candidate.
type ProbeResult struct {
	Shape       Shape  `json:"shape"`
	OK          bool   `json:"ok"`
	OutputShape Shape  `json:"output_shape,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DefaultProbeCandidates are the two layouts the spectral sub-model could
// plausibly expect: (batch, channels, bins, frames) and
// (batch, frames, channels*bins).
func DefaultProbeCandidates() []Shape {
	return []Shape{
		NewShape(1, 2, spectralBins, spectralDefaultFrames),
		NewShape(1, spectralDefaultFrames, 2*spectralBins),
	}
}

// NewShapeProbe creates a probe for the given sub-network model over the
// candidate shapes.
func NewShapeProbe(model ModelSpec, candidates []Shape, opts *options.Options, env *pyenv.Env) *ShapeProbe {
	if len(candidates) == 0 {
		candidates = DefaultProbeCandidates()
	}
	return &ShapeProbe{
		model:      model,
		candidates: candidates,
		workDir:    filepath.Join(opts.WorkDir, "probe"),
		cacheDir:   opts.CacheDir,
		env:        env,
		verbose:    opts.Verbose,
	}
}

// Run tries every candidate shape in order and returns one result per
// candidate. Only a failure of the probe process itself is an error; a
// rejected shape is a reported result.
func (p *ShapeProbe) Run(ctx context.Context) ([]ProbeResult, error) {
	if p.model.Kind != ModelTarget || p.model.Target == "" {
		return nil, fmt.Errorf("the shape probe needs a stem sub-network model, got kind %q", p.model.Kind)
	}
	if err := os.MkdirAll(p.workDir, os.ModePerm); err != nil {
		return nil, err
	}

	candidates := make([][]int64, len(p.candidates))
	for i, c := range p.candidates {
		candidates[i] = c
	}
	driverPath := filepath.Join(p.workDir, "probe_driver.py")
	err := renderProbeDriver(driverPath, driverConfig{Model: p.model, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("rendering probe driver: %w", err)
	}

	stdout := &bytes.Buffer{}
	var env []string
	if p.cacheDir != "" {
		env = []string{"TORCH_HOME=" + p.cacheDir}
	}
	if runErr := p.env.RunScript(ctx, p.workDir, driverPath, env, stdout, nil); runErr != nil {
		return nil, fmt.Errorf("probe driver failed: %w", runErr)
	}

	results, err := parseProbeOutput(stdout)
	if err != nil {
		return nil, err
	}
	if len(results) != len(p.candidates) {
		return results, fmt.Errorf("probe reported %d results for %d candidates", len(results), len(p.candidates))
	}
	if p.verbose {
		for _, r := range results {
			if r.OK {
				fmt.Printf("shape %s accepted, output %s\n", r.Shape, r.OutputShape)
			} else {
				fmt.Printf("shape %s rejected: %s\n", r.Shape, r.Reason)
			}
		}
	}
	return results, nil
}

func parseProbeOutput(out *bytes.Buffer) ([]ProbeResult, error) {
	var results []ProbeResult
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var result ProbeResult
		if err := jsoniter.UnmarshalFromString(line, &result); err != nil {
			return nil, fmt.Errorf("cannot parse probe output line %q: %w", line, err)
		}
		results = append(results, result)
	}
	return results, scanner.Err()
}

// Destroy removes the probe's scratch directory.
func (p *ShapeProbe) Destroy() error {
	if p.workDir == "" {
		return nil
	}
	return os.RemoveAll(p.workDir)
}
