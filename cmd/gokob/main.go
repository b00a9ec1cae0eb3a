package main

import "github.com/morsekob/gokob/internal/cli"

func main() {
	cli.Execute()
}
