package main

import "github.com/example/reservation-agent/cmd"

func main() {
	cmd.Execute()
}
