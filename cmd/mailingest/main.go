package main

import "mailingest/internal/cli"

func main() {
	cli.Execute()
}
