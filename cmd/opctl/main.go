package main

import "github.com/andrescamacho/spacetraders-go/internal/adapters/cli"

func main() {
	cli.Execute()
}
