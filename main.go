package main

import "github.com/ignitionstack/wasmshim/cmd"

func main() {
	cmd.Execute()
}
