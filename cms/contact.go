package cms

import (
	"fmt"
	"strings"
	"time"

	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/webkontor/sitecms/core"
	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/logger"
)

// the contact page is a singleton: exactly one logical row, keyed by a
// fixed identifier instead of an assigned one
const contactPageID = 1

// ContactPageSchemaID is the id of the optional JSON schema for the
// contact page put payload.
const ContactPageSchemaID = "https://webkontor.de/schemas/contact_page.json"

func (b *Backend) createContactPageResource(router *mux.Router) {
	rs := contactPageResource
	schemaName := b.db.Schema

	logger.Default().Debugln("create singleton:", rs.resource)
	logger.Default().Debugln("  handle singleton routes: /contact_page GET,PUT")

	createColumns := []string{"id INTEGER PRIMARY KEY"}
	for _, column := range rs.columns {
		createColumns = append(createColumns, columnDDL(rs, column))
	}
	createColumns = append(createColumns, "updated_at timestamp NOT NULL DEFAULT now()")
	createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\" (%s);",
		schemaName, rs.resource, strings.Join(createColumns, ", "))
	if _, err := b.db.Exec(createQuery); err != nil {
		panic(err)
	}

	columns := append([]string{"id"}, rs.columns...)
	readQuery := fmt.Sprintf("SELECT %s, updated_at FROM %s.\"%s\" WHERE id = $1;",
		strings.Join(columns, ", "), schemaName, rs.resource)

	// a single conditional insert-or-overwrite keyed on the fixed id;
	// concurrent puts serialize at the storage layer, last writer wins
	// wholesale
	sets := make([]string, 0, len(rs.columns)+1)
	for i, column := range rs.columns {
		sets = append(sets, column+" = $"+fmt.Sprint(i+2))
	}
	sets = append(sets, "updated_at = $"+fmt.Sprint(len(columns)+1))
	upsertQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" (%s, updated_at) VALUES(%s) ON CONFLICT (id) DO UPDATE SET %s RETURNING %s, updated_at;",
		schemaName, rs.resource, strings.Join(columns, ", "),
		parameterString(len(columns)+1), strings.Join(sets, ", "),
		strings.Join(columns, ", "))

	scanValuesAndObject := func() ([]interface{}, map[string]interface{}) {
		values := make([]interface{}, 0, len(columns)+1)
		object := map[string]interface{}{}
		id := new(int)
		values = append(values, id)
		object["id"] = id
		for _, column := range rs.columns {
			var value interface{}
			if rs.isStructured(column) {
				value = &json.RawMessage{}
			} else {
				value = new(string)
			}
			values = append(values, value)
			object[column] = value
		}
		updatedAt := new(time.Time)
		values = append(values, updatedAt)
		object["updated_at"] = updatedAt
		return values, object
	}

	// READ
	router.HandleFunc("/contact_page", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		values, object := scanValuesAndObject()
		err := b.db.QueryRowContext(r.Context(), readQuery, contactPageID).Scan(values...)
		if err == csql.ErrNoRows {
			// not an error, the contact page does always exist conceptually
			object = b.emptyContactPage()
		} else if err != nil {
			rlog.WithError(err).Errorln("Error 4110: cannot read contact page")
			http.Error(w, "Error 4110", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodGet)

	// CREATE - UPDATE
	router.HandleFunc("/contact_page", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		if !authorizeAdmin(w, r) {
			return
		}

		var bodyJSON map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&bodyJSON); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return
		}

		if b.validator.HasSchema(ContactPageSchemaID) {
			document, _ := json.MarshalWithOption(bodyJSON, json.DisableHTMLEscape())
			if err := b.validator.ValidateString(string(document), ContactPageSchemaID); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		// this is whole-record replacement, every field must be supplied
		queryParameters := make([]interface{}, 0, len(columns)+1)
		queryParameters = append(queryParameters, contactPageID)
		for _, column := range rs.columns {
			value, ok := bodyJSON[column]
			if !ok {
				http.Error(w, "missing property "+column, http.StatusBadRequest)
				return
			}
			if rs.isStructured(column) {
				serialized, err := json.MarshalWithOption(value, json.DisableHTMLEscape())
				if err != nil {
					http.Error(w, "invalid value for "+column+": "+err.Error(), http.StatusBadRequest)
					return
				}
				value = serialized
			}
			queryParameters = append(queryParameters, value)
		}
		queryParameters = append(queryParameters, time.Now().UTC())

		values, object := scanValuesAndObject()
		err := b.db.QueryRowContext(r.Context(), upsertQuery, queryParameters...).Scan(values...)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4111: cannot upsert contact page")
			http.Error(w, "Error 4111", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		b.notify(rs.resource, core.OperationUpdate, jsonData)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodPut)
}

// emptyContactPage returns a structurally complete representation with
// every field at its zero value
func (b *Backend) emptyContactPage() map[string]interface{} {
	rs := contactPageResource
	object := map[string]interface{}{"id": contactPageID}
	for _, column := range rs.columns {
		object[column] = rs.defaults[column]
	}
	object["updated_at"] = time.Time{}
	return object
}
