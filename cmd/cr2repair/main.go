package main

import "github.com/javi11/cr2repair/cmd/cr2repair/cmd"

func main() {
	cmd.Execute()
}
