package auth

import (
	"embed"
	"io/fs"
	"sync"

	persistence "github.com/goliatone/go-persistence-bun"
)

// MigrationsDir holds one folder of bun SQL migrations per dialect.
const MigrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations
var migrationsFS embed.FS

var registerModels sync.Once

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsFS returns the migrations rooted at MigrationsDir, the layout the
// persistence client expects for dialect migrations.
func MigrationsFS() (fs.FS, error) {
	return fs.Sub(migrationsFS, MigrationsDir)
}

// RegisterModels adds the bun models to the persistence registry. Call it
// before persistence.New.
func RegisterModels() {
	registerModels.Do(func() {
		persistence.RegisterModel((*Account)(nil))
	})
}

// RegisterMigrations adds the embedded dialect migrations to client. Callers
// run client.ValidateDialects and client.Migrate afterwards.
func RegisterMigrations(client *persistence.Client) error {
	migrations, err := MigrationsFS()
	if err != nil {
		return err
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel(MigrationsDir),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	return nil
}
