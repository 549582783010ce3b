package database_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/database"
)

// Example demonstrates how to open the pool and check its health
func Example() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	status, err := db.HealthCheck(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Database is healthy: %v\n", status.Healthy)
	fmt.Printf("Active connections: %d\n", status.Stats.AcquiredConns)
}
