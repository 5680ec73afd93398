package main

import "github.com/bisheshkhanal/ragebaiter/internal/cmd"

func main() {
	cmd.Execute()
}
