package main

import (
	"tickflow/internal/cli"
)

func main() {
	cli.Execute()
}
