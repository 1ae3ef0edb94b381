package main

import "github.com/rand/devchain/internal/cmd"

func main() {
	cmd.Execute()
}
