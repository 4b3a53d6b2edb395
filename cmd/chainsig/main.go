package main

import "github.com/mpcnet/chainsig/cmd/chainsig/cmd"

func main() {
	cmd.Execute()
}
