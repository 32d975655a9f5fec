package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"github.com/yourusername/uav-mission-core/internal/cli"
)

func main() {
	// .env 可选，用于本地覆盖 KUBECONFIG、MISSION_JOURNAL 等环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cli.Execute()
}
