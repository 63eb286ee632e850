package util

import (
	"os"
)

// GetProjectRoot returns the directory holding the migrations directory.
func GetProjectRoot() string {
	if root := os.Getenv("PROJECT_ROOT"); root != "" {
		return root
	}

	wd, err := os.Getwd()
	if err != nil {
		return "./"
	}

	return wd
}
