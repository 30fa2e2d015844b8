package main

import (
	"os"

	"horse.fit/flashpoint/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
