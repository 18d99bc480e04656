package main

import (
	"os"

	"github.com/charliek/semrun/internal/cli"
	"github.com/charliek/semrun/internal/errreport"
)

func main() {
	os.Exit(errreport.Report(os.Stderr, "semrun", cli.Execute()))
}
