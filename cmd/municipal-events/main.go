package main

import (
	_ "time/tzdata"

	"github.com/pfrederiksen/municipal-events/internal/cli"
)

func main() {
	cli.Execute()
}
