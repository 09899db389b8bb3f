package main

import (
	"os"

	"github.com/armadaproject/runplane/cmd/runplane/cmd"
	"github.com/armadaproject/runplane/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
