package main

import (
	"os"

	"github.com/ggagosh/argus/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
