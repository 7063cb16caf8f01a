package main

import (
	"os"

	"shift-allocation/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
