package main

//go:generate swag init -g cmd/tradeloop/main.go -o docs

// @title           tradeloop API
// @version         0.1.0
// @description     Strategy sessions, tick engine controls, accounts and decision history.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
