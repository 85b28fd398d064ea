package main

import "github.com/planscan-tech/planscan/cmd/planscan/cmd"

func main() {
	cmd.Execute()
}
