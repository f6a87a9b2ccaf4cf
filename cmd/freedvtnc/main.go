package main

import (
	"os"

	tnc "github.com/doismellburning/freedvtnc/src"
)

func main() {
	os.Exit(tnc.FreeDVTNCMain(os.Args, os.Stdout, os.Stderr))
}
