package main

import (
	"os"

	"wc-rpc/cmd/wcpeer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
