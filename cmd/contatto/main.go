package main

import "github.com/turtacn/contatto/cmd/cli"

func main() {
	cli.Execute()
}
