package main

import (
	"os"

	tnc "github.com/doismellburning/freedvtnc/src"
)

func main() {
	os.Exit(tnc.KissUtilMain(os.Args, os.Stdin, os.Stdout, os.Stderr))
}
