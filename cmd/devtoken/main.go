package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"daybook/internal/config"
	"daybook/pkg/auth"
)

// devtoken prints a signed access token for local testing against a
// server sharing the same JWT_SECRET.
func main() {
	userID := flag.String("user", "dev-user", "user id (token subject)")
	email := flag.String("email", "dev@localhost", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found: %v", err)
	}

	cfg := config.Load()
	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to mint tokens with ENVIRONMENT=production")
	}

	jwtAuth, err := auth.NewLocalJWTAuth(cfg.JWTSecret, *ttl)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	token, err := jwtAuth.GenerateAccessToken(*userID, *email, "user")
	if err != nil {
		log.Fatalf("❌ Failed to sign token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "🔑 Token for %s (expires in %s):\n", *userID, *ttl)
	fmt.Println(token)
}
