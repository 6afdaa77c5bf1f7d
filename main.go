package main

import "infra/internal/cli"

func main() {
	cli.Main()
}
