package main

import (
	"log"

	"github.com/Viaszx/cursor-usage-tracker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
