// Command opstoken mints a bearer token for the ops API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"rollbook/internal/auth"
	"rollbook/internal/config"
)

func main() {
	subject := flag.String("sub", "", "token subject, e.g. an email address")
	role := flag.String("role", string(auth.RoleViewer), "viewer, staff or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TTL)")
	flag.Parse()

	if *subject == "" {
		log.Fatal("-sub is required")
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lifetime := cfg.AccessTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := auth.Issue(*subject, r, cfg.JWTIssuer, cfg.JWTSigningKey, lifetime)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.Value)
	log.Printf("token for %s (%s) expires %s", *subject, r, tok.ExpiresAt.Format(time.RFC3339))
}
