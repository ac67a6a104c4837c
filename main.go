package main

import "diskimager/internal/cli"

func main() {
	cli.Execute()
}
