// Package main implements the entry point for the ATSPro task service,
// which runs the background task queue and the client-facing polling API.
package main

import (
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; real deployments set environment variables
	// directly and have no .env file.
	_ = godotenv.Load()

	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Application terminated with error: %v", err)
	}
}
