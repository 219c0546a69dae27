package main

import (
	"github.com/leshachaplin/eventgate/app"
	"github.com/leshachaplin/eventgate/internal/config"
)

func main() {
	app.New(config.Load).Start()
}
