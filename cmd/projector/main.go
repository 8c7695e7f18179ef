package main

import "github.com/shastasprojector/projector/cmd/projector/commands"

func main() {
	commands.Execute()
}
