package main

import (
	"os"

	"github.com/ixado/ixado/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
