package main

import (
	"os"

	"github.com/noah-isme/gema-forum/cmd/forumctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
