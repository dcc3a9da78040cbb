package main

//go:generate swag init -g cmd/monitor/main.go -o docs

// @title           Autosell Monitor API
// @version         0.1.0
// @description     Conditional sell-rule monitoring, execution, and worker controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
