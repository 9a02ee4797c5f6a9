package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/db"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
)

// Registers a manufacturer so batches can be created for it, or lists existing ones.
//
//	go run ./cmd/create-manufacturer -id mfr_acme -name "Acme Foods"
//	go run ./cmd/create-manufacturer -list
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	id := flag.String("id", "", "manufacturer id")
	name := flag.String("name", "", "display name")
	list := flag.Bool("list", false, "list manufacturers and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	database, err := db.Open(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Migrate(database, logger); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	repo := repository.NewManufacturerRepository(database)

	if *list {
		manufacturers, err := repo.List(ctx)
		if err != nil {
			log.Fatalf("Failed to list manufacturers: %v", err)
		}
		for _, m := range manufacturers {
			fmt.Printf("%s\t%s\t%s\n", m.ID, m.Name, m.CreatedAt.Format(time.RFC3339))
		}
		return
	}

	if *id == "" || *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Fail now rather than at the first batch if no secret can be resolved for this id.
	secrets, err := config.NewSecretProvider(cfg.Security)
	if err != nil {
		log.Fatalf("Failed to load manufacturer secrets: %v", err)
	}
	if _, err := secrets.ManufacturerSecret(*id); err != nil {
		log.Fatalf("No commitment secret for %s: %v", *id, err)
	}

	if err := repo.Create(ctx, &models.Manufacturer{ID: *id, Name: *name}); err != nil {
		if repository.IsUniqueViolation(err) {
			log.Fatalf("Manufacturer %s already exists", *id)
		}
		log.Fatalf("Failed to create manufacturer: %v", err)
	}
	fmt.Printf("Created manufacturer %s (%s)\n", *id, *name)
}
