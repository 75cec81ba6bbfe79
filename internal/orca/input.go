// Package orca generates ORCA spin-orbit-coupling inputs and extracts the
// coupling quantities the rate stages consume.
package orca

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InputFile is the fixed ORCA input filename inside the SOC stage directory.
const InputFile = "orca.inp"

// heavyMetals trigger the relativistic SARC basis override.
var heavyMetals = []string{"Pt", "Ir", "Os", "Ru", "Rh", "Re"}

// WriteInput renders the TD-DFT SOC input at the given geometry. The
// reference state is the closed-shell singlet regardless of which optimized
// structure supplies the coordinates.
func WriteInput(dir, coords string, memPerCore int) error {
	elements := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(coords), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			elements[fields[0]] = true
		}
	}

	var found []string
	for _, metal := range heavyMetals {
		if elements[metal] {
			found = append(found, metal)
		}
	}

	var b strings.Builder
	b.WriteString("! TPSSh DKH2 DKH-def2-tzvp RIJCOSX SARC/J CPCM(DCM) miniprint TightSCF defgrid3\n\n")
	fmt.Fprintf(&b, "%%maxcore %d\n\n", memPerCore)

	if len(found) > 0 {
		b.WriteString("%basis\n")
		for _, metal := range found {
			fmt.Fprintf(&b, "NewGTO %s \"SARC-DKH-TZVP\" end\n", metal)
		}
		b.WriteString("end\n\n")
	}

	b.WriteString("%tddft\n")
	b.WriteString("nroots      50\n")
	b.WriteString("DoSOC       true\n")
	b.WriteString("PrintLevel  3\n")
	b.WriteString("TDA         false\n")
	b.WriteString("triplets    true\n")
	b.WriteString("end\n\n")

	b.WriteString("* xyz 0 1\n")
	b.WriteString(strings.TrimSpace(coords))
	b.WriteString("\n*\n")

	path := filepath.Join(dir, InputFile)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write orca input: %w", err)
	}
	return nil
}
