package main

import (
	"github.com/marmos91/dittomover/cmd/dittomover/cmd"
)

func main() {
	cmd.Execute()
}
