package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/config"
)

// migrate applies or rolls back the schema in migrations/ against the
// configured Postgres database. It is a separate binary from cmd/dispatch
// and cmd/realtime so schema changes are applied as an explicit deploy
// step rather than racing multiple process replicas running migrations
// on startup.
func main() {
	dir := flag.String("path", "migrations", "directory containing the numbered .up.sql/.down.sql files")
	steps := flag.Int("steps", 0, "migrate N steps; positive moves up, negative moves down")
	down := flag.Bool("down", false, "roll back all migrations")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("migrate")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	m, err := migrate.New("file://"+*dir, cfg.Database.URL())
	if err != nil {
		logger.Fatal("failed to initialize migrator", zap.Error(err))
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("closing migration database handle", zap.Error(dbErr))
		}
	}()

	switch {
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations applied")
}
