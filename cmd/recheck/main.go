// Command recheck runs the feedback check for existing posts without waiting
// for a publish event.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/altcheck/internal/config"
	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/blackmichael/altcheck/internal/messages"
	"github.com/blackmichael/altcheck/internal/mysql"
	"github.com/blackmichael/altcheck/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		driver     string
		dsn        string
		prefix     string
		posts      string
		importPath string
		authorID   int64
		verbose    bool
	)

	flag.StringVar(&driver, "driver", cfg.StoreDriver, "Store driver: sqlite or mysql")
	flag.StringVar(&dsn, "dsn", cfg.DatabaseURL, "SQLite path or MySQL DSN")
	flag.StringVar(&prefix, "prefix", cfg.TablePrefix, "WordPress table prefix (mysql only)")
	flag.StringVar(&posts, "post", "", "Comma-separated post IDs to check (e.g. 12,40)")
	flag.StringVar(&importPath, "import", "", "HTML file to store as a published post and check (sqlite only)")
	flag.Int64Var(&authorID, "author", 0, "Author user ID for an imported post")
	flag.BoolVar(&verbose, "v", false, "Log each step to stderr")
	flag.Parse()

	ids, err := parsePostIDs(posts)
	if err != nil {
		return err
	}
	if err := checkFlags(driver, ids, importPath); err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	var (
		store   domain.ContentStore
		cursors domain.CursorRepository
	)
	switch driver {
	case config.DriverMySQL:
		repo, err := mysql.NewRepository(dsn, prefix)
		if err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		defer repo.Close()
		store, cursors = repo, repo

	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(dsn)
		if err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		defer repo.Close()
		store, cursors = repo, repo

		if importPath != "" {
			body, err := os.ReadFile(importPath)
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			id, err := repo.SavePost(ctx, &domain.Post{
				Status:   domain.PostStatusPublished,
				AuthorID: authorID,
				Body:     string(body),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Imported %s as post %d\n", importPath, id)
			ids = append(ids, id)
		}

	default:
		return fmt.Errorf("unknown driver %q", driver)
	}

	bank := messages.Default()
	if cfg.MessagesPath != "" {
		if bank, err = messages.Load(cfg.MessagesPath); err != nil {
			return err
		}
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	reconciler := domain.NewReconciler(domain.NewReportBuilder(bank, rng))
	feedbackService, err := domain.NewFeedbackService(store, cursors, reconciler, cfg.Bot(), logger)
	if err != nil {
		return fmt.Errorf("create feedback service: %w", err)
	}

	var failed int
	for _, id := range ids {
		outcome, err := feedbackService.HandlePublished(ctx, id)
		if err != nil {
			fmt.Printf("post %d: error: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("post %d: %s\n", id, outcome)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d posts failed", failed, len(ids))
	}
	return nil
}

// checkFlags rejects flag combinations that leave nothing to check.
func checkFlags(driver string, ids []int64, importPath string) error {
	if len(ids) == 0 && importPath == "" {
		return fmt.Errorf("-post or -import is required")
	}
	if importPath != "" && driver != config.DriverSQLite {
		return fmt.Errorf("-import only works with the sqlite driver")
	}
	return nil
}

// parsePostIDs parses a comma-separated list of positive post IDs.
func parsePostIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid post id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
