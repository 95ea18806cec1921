package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Listing Ops API
// @version         0.1.0
// @description     Storefront listing sync batches, rank fetch jobs, and rank logs.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
