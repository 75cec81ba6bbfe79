// Package slurm renders batch scripts for the cluster scheduler and hands
// them to sbatch. Submission is asynchronous: the only observable result is
// the job.done marker and output files the script leaves in the stage
// directory.
package slurm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ScriptName is the submission script filename inside a stage directory.
// Its presence is the submission record: a stage with run.slurm and no
// job.done has an outstanding external job.
const ScriptName = "run.slurm"

// DoneMarker is the zero-byte sentinel touched by the script when the
// external job exits successfully.
const DoneMarker = "job.done"

// Submitter hands a prepared stage directory to the external scheduler.
type Submitter interface {
	Submit(ctx context.Context, dir string) error
}

// CommandSubmitter runs sbatch in the stage directory.
type CommandSubmitter struct{}

// Submit invokes sbatch on the rendered script. The scheduler queues the
// job; nothing is awaited here.
func (CommandSubmitter) Submit(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "sbatch", ScriptName)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sbatch failed in %s: %w: %s", dir, err, string(out))
	}
	return nil
}

// Env carries the cluster-specific paths baked into the scripts.
type Env struct {
	Username    string
	ScratchRoot string
	OrcaExec    string
	OrcaMPIBin  string
	OrcaMPILib  string
	OrcaLib     string
	MomapEnv    string
	Partition   string
	Nproc       int
}

// DefaultEnv returns the production cluster layout.
func DefaultEnv() Env {
	user := os.Getenv("USER")
	if user == "" {
		user = "phosflow"
	}
	return Env{
		Username:    user,
		ScratchRoot: "/scratch",
		OrcaExec:    "/opt/orca/orca",
		OrcaMPIBin:  "/opt/openmpi/bin",
		OrcaMPILib:  "/opt/openmpi/lib",
		OrcaLib:     "/opt/orca",
		MomapEnv:    "/opt/momap/env.sh",
		Partition:   "cpu",
		Nproc:       56,
	}
}

// WriteGaussianScript renders the Gaussian submission script. The job
// stages through node-local /tmp, converts the checkpoint with formchk,
// copies results back and touches job.done on success.
func WriteGaussianScript(env Env, dir, jobName string) error {
	content := fmt.Sprintf(`#!/bin/bash
#SBATCH --output="%%j.err"
#SBATCH --job-name="%[1]s"
#SBATCH --nodes=1
#SBATCH --ntasks-per-node=%[2]d
#SBATCH -n %[2]d
#SBATCH -p %[3]s
#SBATCH --exclusive

export jobname="%[1]s.gjf"
export username="%[4]s"
ulimit -s unlimited

job_base=${jobname%%.*}

export TMP_WORKDIR=/tmp/${username}_${SLURM_JOB_ID}
export GAUSS_SCRDIR=${TMP_WORKDIR}/g16_tmp
mkdir -p $GAUSS_SCRDIR

cp $SLURM_SUBMIT_DIR/$jobname $TMP_WORKDIR/
if [ -f "$SLURM_SUBMIT_DIR/$job_base.chk" ]; then
    cp $SLURM_SUBMIT_DIR/$job_base.chk $TMP_WORKDIR/
fi

module load gaussian/16B
hostname

cd $TMP_WORKDIR
echo "Starting Gaussian run at $(date)"
time g16 "$jobname"
run_status=$?
echo "Finished Gaussian run at $(date)"

if [ $run_status -eq 0 ] && [ -f "$job_base.chk" ]; then
    formchk "$job_base.chk" "$job_base.fchk"
fi

find . -maxdepth 1 -type f ! -name "*.slurm" ! -name "*.err" -exec cp {} $SLURM_SUBMIT_DIR/ \;

if [ $run_status -eq 0 ]; then
    cd $SLURM_SUBMIT_DIR
    touch %[5]s
fi

rm -rf $TMP_WORKDIR
echo "Job completed."
`, jobName, env.Nproc, env.Partition, env.Username, DoneMarker)

	return writeScript(dir, content)
}

// WriteOrcaScript renders the ORCA submission script. Parallel settings are
// injected into the input file at run time, matching the cluster template.
func WriteOrcaScript(env Env, dir, jobName, inputFile string) error {
	content := fmt.Sprintf(`#!/bin/bash
#SBATCH --output="%%j.err"
#SBATCH --job-name="%[1]s"
#SBATCH --nodes=1
#SBATCH --ntasks-per-node=%[2]d
#SBATCH -n %[2]d
#SBATCH -p %[3]s
#SBATCH --exclusive

export jobname="%[4]s"
INPUT=${jobname%%.*}
ulimit -s unlimited

EXEC="%[5]s"

module purge
module load gcc/8.3.0
export PATH=$PATH:%[6]s
export LD_LIBRARY_PATH=$LD_LIBRARY_PATH:%[7]s
export PATH=$PATH:%[8]s
export LD_LIBRARY_PATH=$LD_LIBRARY_PATH:%[8]s

SCRDIR=%[9]s/%[10]s_${SLURM_JOB_ID}
mkdir -p $SCRDIR
export SCRDIR

cp $SLURM_SUBMIT_DIR/* $SCRDIR/
cd $SCRDIR
srun hostname -s | sort -n > hosts

sed -i "1i end" ${INPUT}.inp
sed -i "1i %%pal nprocs %[2]d" ${INPUT}.inp

echo "ORCA start at $(date)"
time ${EXEC} ${INPUT}.inp > ${INPUT}.out
run_status=$?
echo "ORCA finished at $(date)"

rm -f ${SCRDIR}/${INPUT}.inp
rm -f ${SCRDIR}/stdout.txt
mv ${SCRDIR}/* $SLURM_SUBMIT_DIR/

if [ $run_status -eq 0 ]; then
    cd $SLURM_SUBMIT_DIR
    touch %[11]s
fi

rm -rf $SCRDIR
`, jobName, env.Nproc, env.Partition, inputFile, env.OrcaExec,
		env.OrcaMPIBin, env.OrcaMPILib, env.OrcaLib,
		env.ScratchRoot, env.Username, DoneMarker)

	return writeScript(dir, content)
}

// WriteMomapScript renders the MOMAP submission script. MOMAP runs in the
// stage directory directly.
func WriteMomapScript(env Env, dir, jobName, inputFile string) error {
	content := fmt.Sprintf(`#!/bin/bash
#SBATCH --time=1000:00:00
#SBATCH --job-name="%[1]s"
#SBATCH --output="momap.err"
#SBATCH --nodes=1
#SBATCH --ntasks-per-node=%[2]d
#SBATCH -n %[2]d
#SBATCH -p %[3]s
#SBATCH --exclusive

source %[4]s
srun hostname -s | sort -n > hosts

momap.py -i %[5]s -n %[2]d -f hosts

if [ $? -eq 0 ]; then
    touch %[6]s
fi
`, jobName, env.Nproc, env.Partition, env.MomapEnv, inputFile, DoneMarker)

	return writeScript(dir, content)
}

func writeScript(dir, content string) error {
	path := filepath.Join(dir, ScriptName)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
