/*Package csql encapsulates access to the postgres database.

The database handle is opened once at process start and passed
explicitly to every component that needs storage access.
*/
package csql

import (
	"database/sql"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/webkontor/sitecms/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a sitecms postgres database with a schema.
// The schema gets created if it does not exist yet.
//
// The password is passed separately so the connection string can be
// logged without it.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database:", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA IF EXISTS ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}
