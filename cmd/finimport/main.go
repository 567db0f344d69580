package main

import "github.com/JonMunkholm/finimport/internal/commands"

func main() {
	commands.Execute()
}
