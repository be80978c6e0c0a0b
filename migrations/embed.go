// Package migrations embeds the SQL schema of the device directory and
// the pairing audit trail into the binary.
package migrations

import (
	"embed"

	"github.com/sscm-labs/sscm-relay/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
