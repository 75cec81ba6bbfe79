// Package pipeline drives one molecule through the fixed ten-stage
// photophysics workflow: three Gaussian optimize+frequency cycles (S0, S1,
// T1), an ORCA spin-orbit-coupling calculation, three MOMAP rate stages
// (Kr, Kisc, Kic) each with an EVC validation sub-stage, and a final PLQY
// analysis. All stage state is derived from durable filesystem artifacts,
// so advancing is safe to repeat across crashes and restarts.
package pipeline

// StageKey identifies one of the fixed stages of the workflow.
type StageKey string

const (
	StageS0Opt  StageKey = "s0_opt"
	StageS0Freq StageKey = "s0_freq"
	StageS1Opt  StageKey = "s1_opt"
	StageS1Freq StageKey = "s1_freq"
	StageT1Opt  StageKey = "t1_opt"
	StageT1Freq StageKey = "t1_freq"
	StageOrca   StageKey = "orca"
	StageKr     StageKey = "kr"
	StageKisc   StageKey = "kisc"
	StageKic    StageKey = "kic"
)

// stageDirs maps each stage to its numbered subdirectory under the
// molecule root. The numbering is part of the on-disk contract with the
// cluster-side scripts.
var stageDirs = map[StageKey]string{
	StageS0Opt:  "01_S0_Opt",
	StageS0Freq: "02_S0_Freq",
	StageS1Opt:  "03_S1_Opt",
	StageS1Freq: "04_S1_Freq",
	StageT1Opt:  "05_T1_Opt",
	StageT1Freq: "06_T1_Freq",
	StageOrca:   "07_ORCA_SOC",
	StageKr:     "08_MOMAP_Kr",
	StageKisc:   "09_MOMAP_Kisc",
	StageKic:    "10_MOMAP_Kic",
}

// routeKeywords holds the Gaussian route section per stage. The S1 stages
// use TD-DFT; T1 runs as an unrestricted triplet with the ground-state
// route.
var routeKeywords = map[StageKey]string{
	StageS0Opt:  "#p opt TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
	StageS0Freq: "#p freq TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
	StageS1Opt:  "#p td(singlet,nstate=10) opt TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
	StageS1Freq: "#p td(singlet,nstate=10) freq TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
	StageT1Opt:  "#p opt TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
	StageT1Freq: "#p freq TPSSh/def2svp scrf=solvent=CH2Cl2 empiricaldispersion=gd3bj nosymm",
}

// gaussianMem is the memory request written into every Gaussian input.
const gaussianMem = "256GB"

// geometryState describes one electronic state's opt+freq cycle.
type geometryState struct {
	label   string
	optKey  StageKey
	freqKey StageKey
	charge  int
	spin    int
	// fromXYZ states take their starting geometry from the source
	// structure file; the others extract it from the S0 opt log.
	fromXYZ bool
}

var (
	stateS0 = geometryState{label: "s0", optKey: StageS0Opt, freqKey: StageS0Freq, charge: 0, spin: 1, fromXYZ: true}
	stateS1 = geometryState{label: "s1", optKey: StageS1Opt, freqKey: StageS1Freq, charge: 0, spin: 1}
	stateT1 = geometryState{label: "t1", optKey: StageT1Opt, freqKey: StageT1Freq, charge: 0, spin: 3}
)

// rateBranch describes one MOMAP rate stage: which frequency stages feed
// its EVC sub-stage, what the copied logs are named inside the stage
// directory, and whether the ORCA coupling stage is a prerequisite.
type rateBranch struct {
	key        StageKey
	freq1      StageKey
	freq2      StageKey
	log1, log2 string
	needsOrca  bool
}

var (
	branchKr   = rateBranch{key: StageKr, freq1: StageS0Freq, freq2: StageT1Freq, log1: "s0.log", log2: "t1.log", needsOrca: true}
	branchKisc = rateBranch{key: StageKisc, freq1: StageS0Freq, freq2: StageT1Freq, log1: "s0.log", log2: "t1.log", needsOrca: true}
	branchKic  = rateBranch{key: StageKic, freq1: StageS0Freq, freq2: StageS1Freq, log1: "s0.log", log2: "s1.log"}
)

// Upstream returns the done-marker prerequisites of a rate branch, i.e.
// the stage gate: the branch may start its EVC sub-stage only when every
// listed stage carries a completion marker.
func (b rateBranch) Upstream() []StageKey {
	deps := []StageKey{b.freq1, b.freq2}
	if b.needsOrca {
		deps = append(deps, StageOrca)
	}
	return deps
}

// Control markers.
const (
	// RetryCalcallMarker records that the bounded opt=calcall retry has
	// been spent for a geometry state.
	RetryCalcallMarker = "RETRY_CALCALL"
	// RetryCartMarker records that the bounded Cartesian-coordinate
	// retry has been spent for an EVC sub-stage.
	RetryCartMarker = "RETRY_CART"
	// FatalErrorFile gates all further processing for a molecule once
	// present. Appended to, never cleared.
	FatalErrorFile = "FATAL_ERROR.txt"
	// ReportFile is the final analysis artifact; its presence is the
	// molecule's completion signal.
	ReportFile = "REPORT_PLQY.txt"
)

// retryBudgetHours caps how expensive a rejected frequency run may have
// been for the calcall retry to still be worth it.
const retryBudgetHours = 8.0
