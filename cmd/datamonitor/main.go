package main

import "github.com/nozo-moto/datamonitor/internal/cli"

func main() {
	cli.Execute()
}
