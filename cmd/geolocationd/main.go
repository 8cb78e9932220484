package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/daneralejandro03/geolocation-backend/internal/follow"
	"github.com/daneralejandro03/geolocation-backend/internal/identity"
	"github.com/daneralejandro03/geolocation-backend/internal/server"
	"github.com/daneralejandro03/geolocation-backend/pkg/config"
	"github.com/daneralejandro03/geolocation-backend/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the variables directly.
	_ = godotenv.Load()

	logger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	directory := identity.NewInMemoryDirectory()
	graph := follow.NewInMemoryGraph()
	if err := seedFixtures(logger, cfg, directory, graph); err != nil {
		logger.Error("failed to seed fixtures", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, directory, graph)
	if err := app.Run(); err != nil {
		logger.Error("application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application shut down successfully")
}

// seedFixtures loads the configured identities and follow edges into the
// in-memory collaborators.
func seedFixtures(logger *slog.Logger, cfg *config.Config, directory *identity.InMemoryDirectory, graph *follow.InMemoryGraph) error {
	for _, fixture := range cfg.Fixtures.Identities {
		role, err := identity.ParseRole(fixture.Role)
		if err != nil {
			return err
		}
		directory.Put(identity.Identity{ID: fixture.ID, Name: fixture.Name, Role: role})
	}
	for _, edge := range cfg.Fixtures.Follows {
		if err := graph.Follow(edge.Follower, edge.Followed); err != nil {
			return err
		}
	}
	logger.Info("fixtures loaded",
		slog.Int("identities", len(cfg.Fixtures.Identities)),
		slog.Int("follows", len(cfg.Fixtures.Follows)),
	)
	return nil
}
