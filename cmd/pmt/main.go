package main

import (
	"os"

	"github.com/konflux-ci/pipeline-migration-tool/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
