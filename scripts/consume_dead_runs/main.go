package main

import (
	_ "github.com/joho/godotenv/autoload"

	app "github.com/golangci/repohealth/pkg/api"
)

func main() {
	a := app.NewApp()
	a.RunDeadLetterConsumers()
}
