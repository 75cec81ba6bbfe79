// Package gaussian generates Gaussian input files and probes Gaussian log
// files for termination status, frequencies, energies and timings.
package gaussian

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// InputParams describes one Gaussian job input.
type InputParams struct {
	JobName  string
	Coords   string
	Charge   int
	Spin     int
	Keywords string
	Nproc    int
	Mem      string
}

// WriteInput renders a .gjf file into dir.
func WriteInput(dir string, p InputParams) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%%nprocshared=%d\n", p.Nproc)
	fmt.Fprintf(&b, "%%mem=%s\n", p.Mem)
	fmt.Fprintf(&b, "%%chk=%s.chk\n", p.JobName)
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(p.Keywords))
	fmt.Fprintf(&b, "%s\n\n", p.JobName)
	fmt.Fprintf(&b, "%d %d\n", p.Charge, p.Spin)
	b.WriteString(strings.TrimSpace(p.Coords))
	b.WriteString("\n\n")

	path := filepath.Join(dir, p.JobName+".gjf")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write gjf: %w", err)
	}
	return nil
}

// RetryKeywords rewrites a route section to force full analytic Hessians
// (opt=calcall), the stricter convergence mode used for the single bounded
// retry after an imaginary-frequency rejection.
func RetryKeywords(keywords string) string {
	if strings.Contains(keywords, "opt=") {
		keywords = strings.Replace(keywords, "opt=", "opt=(calcall,", 1)
		if !strings.Contains(keywords, ")") {
			keywords += ")"
		}
		return keywords
	}
	return strings.Replace(keywords, "opt", "opt=calcall", 1)
}

// ReadXYZCoords returns the coordinate block of an .xyz file (everything
// after the two-line header).
func ReadXYZCoords(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read xyz file: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) < 3 {
		return "", fmt.Errorf("xyz file %s too short", path)
	}
	coords := strings.TrimSpace(strings.Join(lines[2:], "\n"))
	if coords == "" {
		return "", fmt.Errorf("xyz file %s has no coordinates", path)
	}
	return coords, nil
}

// GeometryExtractor converts a completed log file into an xyz coordinate
// block. The pipeline engine takes it as a dependency so tests can supply
// canned geometries.
type GeometryExtractor func(ctx context.Context, logPath, workDir string) (string, error)

// ExtractGeometry converts the final geometry of a Gaussian log to xyz
// coordinates with Open Babel and returns the coordinate block.
func ExtractGeometry(ctx context.Context, logPath, workDir string) (string, error) {
	tmpXYZ := filepath.Join(workDir, "geom_extract.xyz")

	cmd := exec.CommandContext(ctx, "obabel", "-ig16", logPath, "-oxyz", "-O", tmpXYZ)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("obabel conversion of %s failed: %w: %s", logPath, err, string(out))
	}
	defer os.Remove(tmpXYZ)

	return ReadXYZCoords(tmpXYZ)
}
