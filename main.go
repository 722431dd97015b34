package main

import "github.com/phiinfo/phi-extract/cmd"

func main() {
	cmd.Execute()
}
