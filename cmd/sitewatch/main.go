package main

import (
	cmd "github.com/rohmanhakim/sitewatch/internal/cli"
)

func main() {
	cmd.Execute()
}
