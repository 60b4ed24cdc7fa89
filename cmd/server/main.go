package main

import (
	"log"

	"github.com/iliyamo/cinema-seat-booking/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
