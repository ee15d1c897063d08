package main

//go:generate swag init -g cmd/collector/main.go -o docs

// @title           MarketPlacer Collector API
// @version         0.1.0
// @description     Operational surface of the Wildberries and Ozon seller data collector.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
