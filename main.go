package main

import "github.com/dataflowslab/core.rompharm-sub001/cmd"

func main() {
	cmd.Execute()
}
