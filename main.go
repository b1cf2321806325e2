package main

import (
	"github.com/phudinh153/camcast/cmd"
	"github.com/phudinh153/camcast/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
