// Command smp inspects the build timings recorded by the speed measure
// instrumenter.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/speedmeasure/smp/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
