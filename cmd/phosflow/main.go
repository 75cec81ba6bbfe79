// PhosFlow - batch controller for phosphorescence rate pipelines
package main

import (
	"github.com/photonlab/phosflow/internal/cli"
)

// Version information
var (
	Version   = "v1.2.0"
	BuildTime = "2026-08-29"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	cli.Execute()
}
