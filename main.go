package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"derby/cmd"

	"github.com/joho/godotenv"
)

const defaultAnalysisRaces = 10000

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := handleMigrationCommand(os.Args[2:]); err != nil {
				log.Fatal("Migration error: ", err)
			}
			return
		case "analyze":
			if err := handleAnalyzeCommand(os.Args[2:]); err != nil {
				log.Fatal("Analysis error: ", err)
			}
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if err := cmd.Run(ctx); err != nil {
		log.Fatal("Application error: ", err)
	}
}

func handleMigrationCommand(args []string) error {
	// Migrations read DATABASE_URL directly; a .env file may provide it
	_ = godotenv.Load()

	action, err := cmd.ParseMigrateArgs(args)
	if err != nil {
		return err
	}
	return action()
}

func handleAnalyzeCommand(args []string) error {
	races := defaultAnalysisRaces
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("usage: derby analyze [races]")
		}
		races = parsed
	}
	return cmd.RunAnalyze(context.Background(), races, os.Stdout)
}
