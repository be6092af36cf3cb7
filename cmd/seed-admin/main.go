// seed-admin creates the first back-office admin, or resets the password of
// an existing user and promotes them to admin.
//
// Usage:
//
//	go run ./cmd/seed-admin --username ops --password '...' --name "Ops Desk"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

// ensureAdmin reports whether a new user was created.
func ensureAdmin(ctx context.Context, username, password, name string) (bool, error) {
	existing, err := models.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return false, err
	}
	if existing == nil {
		_, err := models.CreateUser(ctx, &models.NewUser{
			Username: username,
			Name:     name,
			Password: password,
			Role:     models.UserRoleAdmin,
		})
		return err == nil, err
	}

	if len(password) < 8 {
		return false, errors.New("password must be at least 8 characters")
	}
	if err := models.SetUserPassword(ctx, username, password); err != nil {
		return false, err
	}
	updates := map[string]interface{}{"role": models.UserRoleAdmin, "is_active": true}
	if name != "" {
		updates["name"] = name
	}
	if err := config.GetDB().WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Updates(updates).Error; err != nil {
		return false, err
	}
	return false, existing.RemoveInstanceRedis(ctx)
}

func main() {
	username := flag.String("username", "", "admin username (required)")
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "admin password, defaults to $SEED_ADMIN_PASSWORD")
	name := flag.String("name", "", "display name (defaults to the username)")
	flag.Parse()

	user := strings.TrimSpace(*username)
	if user == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "--username and --password are required")
		os.Exit(1)
	}
	displayName := strings.TrimSpace(*name)
	if displayName == "" {
		displayName = user
	}

	config.ConnectDatabaseWithRetry()
	// the cached user must be dropped after a reset
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	created, err := ensureAdmin(context.Background(), user, *password, displayName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin %q: %v\n", user, err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Created admin user: username=%q\n", user)
		return
	}
	fmt.Printf("Updated admin user: username=%q\n", user)
}
