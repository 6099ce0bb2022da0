package main

import "agenda/cmd/cli"

func main() {
	cli.Execute()
}
