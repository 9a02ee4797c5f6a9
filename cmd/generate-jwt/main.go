package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/auth"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
)

// Issues a session token for an existing user, for manual API testing.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	userID := flag.String("user", "", "user id (users.id)")
	email := flag.String("email", "", "user email")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	issuer := auth.NewSessionIssuer(cfg.Security.JWTSecret, *ttl)
	token, expiresAt, err := issuer.Issue(*userID, *email)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Session Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  User ID: %s\n", *userID)
	fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:%d/me\n", token, cfg.Server.Port)
}
