package main

import (
	"github.com/Paintersrp/kill-orphan/internal/cli"
	"github.com/Paintersrp/kill-orphan/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
