package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: universe-cli migrate")
			fmt.Println()
			fmt.Println("Run database migrations from the migrations/ directory.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runMigrate())
	case "seed":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: universe-cli seed")
			fmt.Println()
			fmt.Println("Seed the database with demo data: 2 users, grouped channels, a DM, and messages.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runSeed())
	case "health":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: universe-cli health")
			fmt.Println()
			fmt.Println("Check if the Universe server is running.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			return
		}
		os.Exit(runHealth())
	case "version":
		fmt.Printf("universe-cli %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: universe-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations")
	fmt.Println("  seed     Seed demo data (users, channels, groups, messages)")
	fmt.Println("  health   Check if the server is running")
	fmt.Println("  version  Print version info")
	fmt.Println()
	fmt.Println("Run 'universe-cli <command> --help' for details on a command.")
}

func hasFlag(flag string, args []string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- migrate ---

func runMigrate() int {
	dbURL := requireEnv("DATABASE_URL")

	fmt.Println("connecting to database...")
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: migration init failed: %v\n", err)
		return 1
	}
	defer m.Close()

	fmt.Println("running migrations...")
	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", upErr)
		return 1
	}

	v, dirty, _ := m.Version()
	if upErr == migrate.ErrNoChange {
		fmt.Printf("no new migrations (current version: %d)\n", v)
	} else {
		fmt.Printf("migrations applied (version: %d, dirty: %v)\n", v, dirty)
	}
	return 0
}

// --- seed ---

func runSeed() int {
	dbURL := requireEnv("DATABASE_URL")
	ctx := context.Background()

	fmt.Println("connecting to database...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: database ping failed: %v\n", err)
		return 1
	}

	sf, err := snowflake.NewGenerator(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: snowflake init failed: %v\n", err)
		return 1
	}

	users := database.NewUserRepository(pool)
	channels := database.NewChannelRepository(pool)
	groups := database.NewGroupRepository(pool)
	messages := database.NewMessageRepository(pool)

	existing, err := users.GetByUsername(ctx, "alice")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: checking existing seed: %v\n", err)
		return 1
	}
	if existing != nil {
		fmt.Println("seed already applied (user alice exists), nothing to do")
		return 0
	}

	fmt.Println("creating users...")
	alice := &models.User{ID: sf.Generate(), Username: "alice", DisplayName: "Alice"}
	bob := &models.User{ID: sf.Generate(), Username: "bob", DisplayName: "Bob"}
	for _, u := range []*models.User{alice, bob} {
		if err := users.Create(ctx, u); err != nil {
			fmt.Fprintf(os.Stderr, "error: creating user %s: %v\n", u.Username, err)
			return 1
		}
	}

	// The initial migration seeds the General group; recreate it here for
	// databases that predate that migration.
	group, err := groups.GetByName(ctx, models.DefaultGroupName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: looking up channel group: %v\n", err)
		return 1
	}
	if group == nil {
		fmt.Println("creating channel group...")
		group = &models.ChannelGroup{ID: sf.Generate(), Name: models.DefaultGroupName}
		if err := groups.Create(ctx, group); err != nil {
			fmt.Fprintf(os.Stderr, "error: creating channel group: %v\n", err)
			return 1
		}
	}

	fmt.Println("creating channels...")
	general := &models.Channel{ID: sf.Generate(), Name: "general", Kind: models.ChannelKindText, OwnerID: &alice.ID}
	if err := channels.Create(ctx, general, []snowflake.ID{alice.ID, bob.ID}); err != nil {
		fmt.Fprintf(os.Stderr, "error: creating #general: %v\n", err)
		return 1
	}
	random := &models.Channel{ID: sf.Generate(), Name: "random", Kind: models.ChannelKindText, OwnerID: &alice.ID}
	if err := channels.Create(ctx, random, []snowflake.ID{alice.ID}); err != nil {
		fmt.Fprintf(os.Stderr, "error: creating #random: %v\n", err)
		return 1
	}
	for _, ch := range []*models.Channel{general, random} {
		if err := groups.AppendChannel(ctx, group.Name, ch.ID); err != nil {
			fmt.Fprintf(os.Stderr, "error: grouping #%s: %v\n", ch.Name, err)
			return 1
		}
	}

	if _, _, err := channels.GetOrCreateDM(ctx, alice.ID, bob.ID, sf.Generate()); err != nil {
		fmt.Fprintf(os.Stderr, "error: creating dm channel: %v\n", err)
		return 1
	}

	fmt.Println("creating messages...")
	seedMessages := []models.Message{
		{ChannelID: general.ID, Author: models.UserSummary{ID: alice.ID}, TextContent: json.RawMessage(`"Welcome to Universe!"`)},
		{ChannelID: general.ID, Author: models.UserSummary{ID: bob.ID}, TextContent: json.RawMessage(`"Hey Alice, glad to be here!"`)},
		{ChannelID: random.ID, Author: models.UserSummary{ID: alice.ID}, TextContent: json.RawMessage(`"This is the random channel."`)},
	}
	for i := range seedMessages {
		msg := &seedMessages[i]
		msg.ID = uuid.NewString()
		msg.SentAt = time.Now()
		if err := messages.Create(ctx, msg); err != nil {
			fmt.Fprintf(os.Stderr, "error: creating message: %v\n", err)
			return 1
		}
	}

	fmt.Println()
	fmt.Println("seed complete:")
	fmt.Printf("  users:    alice, bob\n")
	fmt.Printf("  channels: #general, #random (group: General), alice <> bob DM\n")
	fmt.Printf("  messages: 3 messages in #general and #random\n")
	return 0
}

// --- health ---

func runHealth() int {
	serverURL := envOr("SERVER_URL", "http://localhost:8080")
	url := serverURL + "/health"

	fmt.Printf("checking %s ...\n", url)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status: %d\n", resp.StatusCode)
	if len(body) > 0 {
		fmt.Printf("body:   %s\n", string(body))
	}

	if resp.StatusCode == http.StatusOK {
		fmt.Println("server is healthy")
		return 0
	}
	fmt.Fprintln(os.Stderr, "server returned non-200 status")
	return 1
}
