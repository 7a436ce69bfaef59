/*Package cms implements the content resource engine.

The engine serves a fixed set of content resources (categories,
products, services, news, certifications, customer logos and the
contact page singleton) as REST routes over postgres. Each resource is
described by a static descriptor which doubles as the column allow-list
for all inbound payloads.
*/
package cms

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/webkontor/sitecms/cms/blob"
	"github.com/webkontor/sitecms/core"
	"github.com/webkontor/sitecms/core/access"
	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/logger"
	"github.com/webkontor/sitecms/core/schema"
)

// Backend is the content resource backend
type Backend struct {
	db        *csql.DB
	router    *mux.Router
	notifier  core.Notifier
	uploads   blob.Driver
	validator *schema.Validator
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every content change. This is optional.
	Notifier core.Notifier
	// Uploads is the store for uploaded images. Optional; without it the
	// upload routes are not registered.
	Uploads blob.Driver
	// JSONSchemas are optional toplevel JSON schemas. A resource whose
	// descriptor names one of the schema ids gets its write payloads
	// validated against it.
	JSONSchemas []string
}

// New realizes the actual backend. It creates the sql relations (if
// they do not exist) and adds the resource routes to the router.
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	validator, err := schema.NewValidator(bb.JSONSchemas)
	if err != nil {
		panic(fmt.Errorf("invalid JSON schema: %s", err))
	}

	b := &Backend{
		db:        bb.DB,
		router:    bb.Router,
		notifier:  bb.Notifier,
		uploads:   bb.Uploads,
		validator: validator,
	}

	if err := access.EnsureAccountTable(b.db); err != nil {
		panic(err)
	}

	for _, rs := range contentResources {
		b.createCollectionResource(bb.Router, rs)
	}
	b.createContactPageResource(bb.Router)
	b.createMenuRoute(bb.Router)
	if b.uploads != nil {
		b.createUploadRoutes(bb.Router)
	}
	access.HandleAuthorizationRoute(bb.Router)
	return b
}

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + strconv.Itoa(i+1)
	}
	return result
}

// columnDDL returns the DDL for a single writable column. The mapping
// is total over the fixed resource shapes: structured columns are JSON
// text, sort_order and is_active carry their storage defaults, slugs
// are unique, everything else is text defaulting to the empty string.
func columnDDL(rs resourceDescriptor, column string) string {
	switch {
	case rs.isStructured(column):
		return column + " json NOT NULL DEFAULT '[]'"
	case column == "sort_order":
		return column + " INTEGER NOT NULL DEFAULT 0"
	case column == "is_active":
		return column + " BOOLEAN NOT NULL DEFAULT true"
	case column == "slug" && rs.slugged:
		return column + " varchar NOT NULL UNIQUE"
	default:
		return column + " varchar NOT NULL DEFAULT ''"
	}
}

func (b *Backend) createTable(rs resourceDescriptor) {
	logger.Default().Debugln("create resource:", rs.resource)
	schemaName := b.db.Schema
	createColumns := []string{"id BIGSERIAL PRIMARY KEY"}
	for _, column := range rs.columns {
		createColumns = append(createColumns, columnDDL(rs, column))
	}
	createColumns = append(createColumns, "created_at timestamp NOT NULL DEFAULT now()")

	createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\" (%s);",
		schemaName, rs.resource, strings.Join(createColumns, ", "))
	if _, err := b.db.Exec(createQuery); err != nil {
		panic(err)
	}
}

// createScanValuesAndObject returns scan destinations for one row of
// the resource plus the response object sharing those destinations.
// The row layout is always id, the writable columns, created_at.
func createScanValuesAndObject(rs resourceDescriptor) ([]interface{}, map[string]interface{}) {
	values := make([]interface{}, 0, len(rs.columns)+2)
	object := map[string]interface{}{}

	id := new(int64)
	values = append(values, id)
	object["id"] = id

	for _, column := range rs.columns {
		var value interface{}
		switch {
		case rs.isStructured(column):
			value = &json.RawMessage{}
		case column == "sort_order":
			value = new(int)
		case column == "is_active":
			value = new(bool)
		default:
			value = new(string)
		}
		values = append(values, value)
		object[column] = value
	}

	createdAt := new(time.Time)
	values = append(values, createdAt)
	object["created_at"] = createdAt
	return values, object
}

// isUniqueViolation tells whether err is a postgres unique constraint
// violation, e.g. a duplicate slug
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// authorizeAdmin enforces the two authorization gates for mutating
// routes: a valid credential and the admin role. It writes the error
// response itself and returns false if either gate fails.
func authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return false
	}
	if !auth.HasRole("admin") {
		http.Error(w, "not authorized", http.StatusForbidden)
		return false
	}
	return true
}

func (b *Backend) notify(resource string, operation core.Operation, payload []byte) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(resource, operation, payload)
}
