package main

import (
	"log"
	"path"

	"github.com/golangci/repohealth/internal/api/util"
	"github.com/golangci/repohealth/internal/shared/config"
	app "github.com/golangci/repohealth/pkg/api"
)

func main() {
	root := util.GetProjectRoot()
	if err := config.LoadEnvFiles(path.Join(root, ".env")); err != nil {
		log.Fatalf("Can't load env: %s", err)
	}

	a := app.NewApp()
	a.RunForever()
}
