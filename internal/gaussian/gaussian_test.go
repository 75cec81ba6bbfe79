package gaussian

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNormalTermination(t *testing.T) {
	good := writeLog(t, "some output\n Normal termination of Gaussian 16 at Fri Aug 29.\n")
	if !NormalTermination(good) {
		t.Error("normal termination not detected")
	}

	bad := writeLog(t, "Error termination via Lnk1e in /opt/g16/l9999.exe\n")
	if NormalTermination(bad) {
		t.Error("error termination reported as normal")
	}

	if NormalTermination(filepath.Join(t.TempDir(), "missing.log")) {
		t.Error("missing log reported as normal")
	}
}

func TestImaginaryFrequencies(t *testing.T) {
	clean := writeLog(t, ` Frequencies --     12.3456             45.6789             88.0123
 Frequencies --    102.5000            230.1111            310.9999
`)
	has, vals, err := ImaginaryFrequencies(clean)
	if err != nil {
		t.Fatalf("ImaginaryFrequencies() error: %v", err)
	}
	if has || len(vals) != 0 {
		t.Errorf("clean log: has=%v vals=%v, want none", has, vals)
	}

	dirty := writeLog(t, ` Frequencies --    -25.4321             45.6789             88.0123
 Frequencies --    102.5000            230.1111            310.9999
`)
	has, vals, err = ImaginaryFrequencies(dirty)
	if err != nil {
		t.Fatalf("ImaginaryFrequencies() error: %v", err)
	}
	if !has || len(vals) != 1 || vals[0] != -25.4321 {
		t.Errorf("dirty log: has=%v vals=%v, want one mode -25.4321", has, vals)
	}
}

func TestElapsedHours(t *testing.T) {
	log := writeLog(t, ` Elapsed time:       0 days  3 hours 30 minutes 0.0 seconds.
`)
	got := ElapsedHours(log)
	if math.Abs(got-3.5) > 1e-9 {
		t.Errorf("ElapsedHours() = %v, want 3.5", got)
	}

	noTiming := writeLog(t, "no timing line here\n")
	if got := ElapsedHours(noTiming); got != 0 {
		t.Errorf("ElapsedHours() = %v for log without timing, want 0", got)
	}
}

func TestEnergy(t *testing.T) {
	scfOnly := writeLog(t, ` SCF Done:  E(RTPSSh) =  -993.288123456     A.U. after   12 cycles
 SCF Done:  E(RTPSSh) =  -993.291987654     A.U. after    9 cycles
`)
	if got := Energy(scfOnly); math.Abs(got-(-993.291987654)) > 1e-9 {
		t.Errorf("Energy() = %v, want last SCF Done value", got)
	}

	// A TD log's Total Energy takes precedence over SCF Done.
	td := writeLog(t, ` SCF Done:  E(RTPSSh) =  -993.288123456     A.U. after   12 cycles
 Total Energy, E(TD-HF/TD-DFT) =  -993.201234567
`)
	if got := Energy(td); math.Abs(got-(-993.201234567)) > 1e-9 {
		t.Errorf("Energy() = %v, want Total Energy value", got)
	}

	if got := Energy(filepath.Join(t.TempDir(), "missing.log")); got != 0 {
		t.Errorf("Energy() = %v for missing log, want 0", got)
	}
}

func TestRetryKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bare opt keyword",
			"#p opt TPSSh/def2svp nosymm",
			"#p opt=calcall TPSSh/def2svp nosymm",
		},
		{
			"parenthesized opt options",
			"#p opt=(ts,noeigentest) TPSSh/def2svp",
			"#p opt=(calcall,(ts,noeigentest) TPSSh/def2svp",
		},
		{
			"opt= without closing paren gains one",
			"#p opt=tight",
			"#p opt=(calcall,tight)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryKeywords(tt.in); got != tt.want {
				t.Errorf("RetryKeywords(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriteInput(t *testing.T) {
	dir := t.TempDir()
	err := WriteInput(dir, InputParams{
		JobName:  "mol_s0_opt",
		Coords:   "C 0.0 0.0 0.0\nO 0.0 0.0 1.2",
		Charge:   0,
		Spin:     1,
		Keywords: "#p opt TPSSh/def2svp",
		Nproc:    56,
		Mem:      "256GB",
	})
	if err != nil {
		t.Fatalf("WriteInput() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "mol_s0_opt.gjf"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	for _, want := range []string{
		"%nprocshared=56",
		"%mem=256GB",
		"%chk=mol_s0_opt.chk",
		"#p opt TPSSh/def2svp",
		"0 1",
		"O 0.0 0.0 1.2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("gjf missing %q:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(text, "\n\n") {
		t.Error("gjf must end with a blank line")
	}
}

func TestReadXYZCoords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mol.xyz")
	content := "2\ncomment line\nC 0.0 0.0 0.0\nO 0.0 0.0 1.2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	coords, err := ReadXYZCoords(path)
	if err != nil {
		t.Fatalf("ReadXYZCoords() error: %v", err)
	}
	want := "C 0.0 0.0 0.0\nO 0.0 0.0 1.2"
	if coords != want {
		t.Errorf("coords = %q, want %q", coords, want)
	}

	short := filepath.Join(t.TempDir(), "short.xyz")
	if err := os.WriteFile(short, []byte("2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadXYZCoords(short); err == nil {
		t.Error("ReadXYZCoords() on truncated file did not fail")
	}
}
