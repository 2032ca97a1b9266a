//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/nexttogo-service-go/pkg/db/migrate"
	database "github.com/mpapenbr/nexttogo-service-go/pkg/db/postgres"
)

// SetupTestDb starts the race test container and returns a pool on the
// migrated database.
func SetupTestDb() *pgxpool.Pool {
	ctx := context.Background()
	container, err := StartRaceDB(ctx,
		WithReadyLog("database system is ready to accept connections", 2),
		WithName("nexttogo-service-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	dbURL, err := container.URL(ctx)
	if err != nil {
		log.Fatal(err)
	}
	return setupWithURL(dbURL)
}

// SetupExternalTestDb uses the database referenced by TESTDB_URL
func SetupExternalTestDb() *pgxpool.Pool {
	return setupWithURL(os.Getenv("TESTDB_URL"))
}

func setupWithURL(dbURL string) *pgxpool.Pool {
	if err := migrate.MigrateDb(dbURL); err != nil {
		log.Fatal(err)
	}
	return database.InitWithUrl(dbURL)
}

func ClearRaceTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from race")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearRaceTable(pool)
}
