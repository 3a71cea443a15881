package testutil

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/xiaonanln/wpeplayback/util/postgres"
)

var invalidDBNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeDBName converts a test name to a valid PostgreSQL database name.
// PostgreSQL database names must be <= 63 chars, start with letter/underscore,
// and contain only letters, digits, and underscores.
func sanitizeDBName(testName string) string {
	name := invalidDBNameChars.ReplaceAllString(testName, "_")
	if len(name) > 0 && name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	name = strings.ToLower(name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// adminConfig returns the connection used to create and drop test databases.
// POSTGRES_HOST, POSTGRES_USER and POSTGRES_PASSWORD override the defaults.
func adminConfig() *postgres.Config {
	return &postgres.Config{
		Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
		Port:     5432,
		User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
		Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
		Database: "postgres",
		SSLMode:  "disable",
	}
}

// CreateTestDatabase creates a test database based on the test name and returns a connection to it.
// It drops any existing database with the same name, creates a fresh one, and registers
// a cleanup function to drop the database when the test completes.
// If PostgreSQL is not available, or SKIP_POSTGRES_TESTS=1, the test is skipped.
func CreateTestDatabase(t *testing.T) *postgres.DB {
	t.Helper()

	if os.Getenv("SKIP_POSTGRES_TESTS") == "1" {
		t.Skip("Skipping PostgreSQL integration test (SKIP_POSTGRES_TESTS=1)")
	}

	dbName := sanitizeDBName(t.Name())
	admin := adminConfig()

	adminDB, err := postgres.NewDB(admin)
	if err != nil {
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil
	}
	ctx := context.Background()
	if err := adminDB.Ping(ctx); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil
	}

	_, _ = adminDB.Connection().ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
	if _, err := adminDB.Connection().ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Skipf("Failed to create test database: %v", err)
		return nil
	}
	adminDB.Close()

	testConfig := *admin
	testConfig.Database = dbName
	db, err := postgres.NewDB(&testConfig)
	if err != nil {
		t.Skipf("Skipping test - Failed to connect to test database: %v", err)
		return nil
	}

	t.Cleanup(func() {
		db.Close()

		cleanupDB, err := postgres.NewDB(admin)
		if err != nil {
			t.Logf("Warning: Failed to connect for cleanup: %v", err)
			return
		}
		defer cleanupDB.Close()

		if _, err := cleanupDB.Connection().ExecContext(context.Background(),
			fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: Failed to drop test database: %v", err)
		}
	})

	return db
}
