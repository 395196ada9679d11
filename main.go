package main

import "github.com/agentic-research/formgraph/cmd"

func main() {
	cmd.Execute()
}
