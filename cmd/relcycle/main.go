package main

import "github.com/msageha/relcycle/internal/cli"

func main() {
	cli.Execute()
}
