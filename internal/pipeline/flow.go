package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/photonlab/phosflow/internal/gaussian"
	"github.com/photonlab/phosflow/internal/logging"
	"github.com/photonlab/phosflow/internal/slurm"
)

// Flow is the per-molecule pipeline engine. It owns the molecule's working
// tree under the results root and is the only writer of the stage markers
// and the fatal-error log inside it.
type Flow struct {
	Name    string
	XYZPath string
	Root    string

	dirs      map[StageKey]string
	errorFile string

	env         slurm.Env
	submitter   slurm.Submitter
	extractGeom gaussian.GeometryExtractor
	logger      *logging.Logger
	now         func() time.Time
}

// Option adjusts a Flow at construction, mainly for tests.
type Option func(*Flow)

// WithSubmitter replaces the sbatch submitter.
func WithSubmitter(s slurm.Submitter) Option {
	return func(f *Flow) { f.submitter = s }
}

// WithGeometryExtractor replaces the Open Babel geometry extraction.
func WithGeometryExtractor(g gaussian.GeometryExtractor) Option {
	return func(f *Flow) { f.extractGeom = g }
}

// WithEnv replaces the cluster environment baked into the job scripts.
func WithEnv(env slurm.Env) Option {
	return func(f *Flow) { f.env = env }
}

// WithClock replaces the wall clock used for fatal-log timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// NewFlow creates the engine for one molecule and ensures its root
// directory exists.
func NewFlow(name, xyzPath, resultsDir string, logger *logging.Logger, opts ...Option) (*Flow, error) {
	root := filepath.Join(resultsDir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create molecule root: %w", err)
	}

	dirs := make(map[StageKey]string, len(stageDirs))
	for key, sub := range stageDirs {
		dirs[key] = filepath.Join(root, sub)
	}

	f := &Flow{
		Name:        name,
		XYZPath:     xyzPath,
		Root:        root,
		dirs:        dirs,
		errorFile:   filepath.Join(root, FatalErrorFile),
		env:         slurm.DefaultEnv(),
		submitter:   slurm.CommandSubmitter{},
		extractGeom: gaussian.ExtractGeometry,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dir returns a stage's directory.
func (f *Flow) Dir(key StageKey) string {
	return f.dirs[key]
}

// done reports whether a stage's external job left its completion marker.
func (f *Flow) done(key StageKey) bool {
	return fileExists(filepath.Join(f.dirs[key], slurm.DoneMarker))
}

// submitted reports whether a stage has a submission record outstanding.
func (f *Flow) submitted(key StageKey) bool {
	return fileExists(filepath.Join(f.dirs[key], slurm.ScriptName))
}

// Failed reports whether the molecule carries a fatal-error log. The
// marker is a ratchet: once present, Advance short-circuits forever.
func (f *Flow) Failed() bool {
	return fileExists(f.errorFile)
}

// FatalLog returns the contents of the fatal-error log, or "" if none.
func (f *Flow) FatalLog() string {
	data, err := os.ReadFile(f.errorFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// Completed reports whether the final report artifact exists.
func (f *Flow) Completed() bool {
	return fileExists(filepath.Join(f.Root, ReportFile))
}

// markFatal appends a timestamped message to the fatal-error log and
// thereby halts the molecule's pipeline permanently.
func (f *Flow) markFatal(message string) {
	stamp := f.now().Format("2006-01-02 15:04:05")
	content := fmt.Sprintf("[%s] FATAL ERROR:\n%s\n", stamp, message)

	file, err := os.OpenFile(f.errorFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.logger.Error().Err(err).Str("molecule", f.Name).Msg("Failed to write fatal-error log")
		return
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		f.logger.Error().Err(err).Str("molecule", f.Name).Msg("Failed to write fatal-error log")
	}

	f.logger.Error().Str("molecule", f.Name).Msg("Pipeline halted: " + message)
}

// CurrentStage returns a human-readable label for the furthest completed
// stage, for the status report.
func (f *Flow) CurrentStage() string {
	switch {
	case f.Completed():
		return "Analysis Done"
	case f.done(StageKic):
		return "MOMAP Kic Done"
	case f.done(StageKisc):
		return "MOMAP Kisc Done"
	case f.done(StageKr):
		return "MOMAP Kr Done"
	case f.done(StageOrca):
		return "ORCA Done"
	case f.done(StageT1Opt):
		return "Gaussian T1 Done"
	case f.done(StageS1Opt):
		return "Gaussian S1 Done"
	case f.done(StageS0Freq):
		return "Gaussian S0 Done"
	default:
		return "Starting / In Progress"
	}
}

// jobName builds the external job name for a stage.
func (f *Flow) jobName(key StageKey) string {
	return fmt.Sprintf("%s_%s", f.Name, key)
}

// stageLog returns the Gaussian log path for a stage.
func (f *Flow) stageLog(key StageKey) string {
	return filepath.Join(f.dirs[key], f.jobName(key)+".log")
}

// orcaOutput returns the SOC calculation's output file, trying the
// script's redirect target first and the legacy names after it.
func (f *Flow) orcaOutput() string {
	dir := f.dirs[StageOrca]
	candidates := []string{
		filepath.Join(dir, "orca.out"),
		filepath.Join(dir, f.jobName(StageOrca)+".out"),
		filepath.Join(dir, f.jobName(StageOrca)+".log"),
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p
		}
	}
	return candidates[0]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
