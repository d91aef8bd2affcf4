// Command devtoken issues a bearer token signed with the server's JWT_SECRET, for running
// the editor against a local server without the auth service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"notepad-sync/internal/config"
	"notepad-sync/pkg/jwt"
)

func main() {
	userID := flag.String("user", "", "User id (random when empty)")
	username := flag.String("name", "", "Display name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *userID == "" {
		*userID = uuid.New().String()
	}
	if *username == "" {
		*username = *userID
	}

	token, err := jwt.GenerateUserToken(*userID, *username, cfg.JWT.Expiration, cfg.JWT.Secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
