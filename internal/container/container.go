package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"mixpower/adapters/excel"
	"mixpower/adapters/mixed"
	"mixpower/adapters/postgres"
	"mixpower/adapters/rng"
	"mixpower/app"
	"mixpower/internal"
	"mixpower/internal/config"
	apperrors "mixpower/internal/errors"
	"mixpower/internal/migration"
	"mixpower/internal/testkit"
	"mixpower/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Engine
	RNG     ports.RNGPort
	Adapter ports.ModelAdapter

	// Persistence and output
	Repo   ports.PowerRepository
	Writer ports.RecordWriter

	Service *app.PowerService
}

// New creates a new dependency injection container. Without a database, runs
// are kept in memory for the lifetime of the process.
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.NewLogger(cfg.LogLevel)
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		RNG:     rng.NewStreams(),
		Adapter: mixed.NewAdapter(mixed.Options{MaxIter: cfg.Sim.MaxIter}, logger),
		Repo:    testkit.NewInMemoryPowerRepository(),
		Writer:  excel.NewWriter(),
	}
	c.buildService()
	return c, nil
}

// Connect opens the configured database, if any, and switches persistence to it.
func (c *Container) Connect(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		c.Logger.Info("DATABASE_URL not set; results are kept in memory")
		return nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.URL)
	if err != nil {
		return apperrors.DatabaseError("failed to connect to database", err)
	}
	return c.InitWithDatabase(ctx, db)
}

// InitWithDatabase migrates the schema and initializes the postgres repository
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	c.DB = db

	if err := db.PingContext(ctx); err != nil {
		return apperrors.DatabaseError("database connection test failed", err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		return err
	}

	c.Repo = postgres.NewPowerRepository(db)
	c.buildService()
	c.Logger.Info("container initialized with database persistence")
	return nil
}

func (c *Container) buildService() {
	progressLog := c.Logger.With("progress")
	c.Service = app.NewPowerService(c.Adapter, c.RNG, c.Logger,
		app.WithRepository(c.Repo),
		app.WithTrialProgress(func(done, total int) {
			if step := total / 10; step > 0 && done%step == 0 {
				progressLog.Debug("%d/%d trials", done, total)
			}
		}),
	)
}

// Shutdown closes the database connection
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
