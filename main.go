package main

import "github.com/sokoworks/payment-hub/cmd"

func main() {
	cmd.Execute()
}
