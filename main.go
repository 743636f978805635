package main

import "github.com/branchbox/branchbox/cmd"

func main() {
	cmd.Execute()
}
