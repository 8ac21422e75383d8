package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tensorio/bridge/cmd"
	_ "github.com/tensorio/bridge/ml/backend"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
