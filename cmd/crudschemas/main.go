package main

import "github.com/marshallshelly/crudschemas/cmd/crudschemas/commands"

func main() {
	commands.Execute()
}
