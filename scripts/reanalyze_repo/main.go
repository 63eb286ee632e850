package main

import (
	"context"
	"flag"
	"log"

	_ "github.com/joho/godotenv/autoload"

	app "github.com/golangci/repohealth/pkg/api"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/pkg/errors"
)

func main() {
	repoName := flag.String("repo", "", "owner/name")
	flag.Parse()

	if *repoName == "" {
		log.Fatalf("Must set --repo")
	}

	h, err := reanalyzeRepo(*repoName)
	if err != nil {
		log.Fatalf("Failed to reanalyze: %s", err)
	}

	log.Printf("Analysis of repo %s: run %s is %s", *repoName, h.RunID, h.State)
}

func reanalyzeRepo(repoName string) (*orchestrator.RunHandle, error) {
	key, err := models.ParseRepositoryKey(repoName)
	if err != nil {
		return nil, err
	}

	a := app.NewApp()
	h, err := a.RequestAnalysis(context.Background(), key.Owner, key.Project)
	if err != nil {
		return nil, errors.Wrapf(err, "can't request analysis of %s", key)
	}

	// without SQS the run executes in this process
	a.WaitLocalRuns()
	return h, nil
}
