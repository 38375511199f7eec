package main

import "github.com/prsuperstar/superstar/cmd/superstar/cmd"

func main() {
	cmd.Execute()
}
