package main

import (
	"os"

	"github.com/deploymenttheory/go-model-retrain/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
