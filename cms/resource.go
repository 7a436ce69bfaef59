package cms

import (
	"fmt"
	"strconv"
	"strings"

	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/webkontor/sitecms/core"
	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/logger"
)

func (b *Backend) createCollectionResource(router *mux.Router, rs resourceDescriptor) {
	b.createTable(rs)

	schemaName := b.db.Schema
	resource := rs.resource

	collectionRoute := "/" + core.Plural(resource)
	oneRoute := collectionRoute + "/{id}"
	logger.Default().Debugln("  handle collection routes:", collectionRoute, "GET,POST")
	logger.Default().Debugln("  handle item routes:", oneRoute, "GET,PATCH,DELETE")

	returning := append([]string{"id"}, rs.columns...)
	returning = append(returning, "created_at")
	readQuery := fmt.Sprintf("SELECT %s FROM %s.\"%s\" ", strings.Join(returning, ", "), schemaName, resource)
	// ties on sort_order keep insertion order, ids are monotonic
	listOrder := "ORDER BY sort_order ASC, id ASC;"
	insertQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" (%s) VALUES(%s) RETURNING %s;",
		schemaName, resource, strings.Join(rs.columns, ", "),
		parameterString(len(rs.columns)), strings.Join(returning, ", "))
	deleteQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE id = $1;", schemaName, resource)

	// LIST
	router.HandleFunc(collectionRoute, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		sqlQuery := readQuery
		for key, array := range r.URL.Query() {
			switch {
			case key == "active" && rs.knowsColumn("is_active"):
				if len(array) == 0 || array[0] != "true" {
					http.Error(w, "parameter 'active': must be true", http.StatusBadRequest)
					return
				}
				sqlQuery += "WHERE is_active "
			default:
				http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
				return
			}
		}

		rows, err := b.db.QueryContext(r.Context(), sqlQuery+listOrder)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4101: cannot list resource `%s`", resource)
			http.Error(w, "Error 4101", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		response := []map[string]interface{}{}
		for rows.Next() {
			values, object := createScanValuesAndObject(rs)
			if err := rows.Scan(values...); err != nil {
				rlog.WithError(err).Errorf("Error 4102: cannot scan resource `%s`", resource)
				http.Error(w, "Error 4102", http.StatusInternalServerError)
				return
			}
			response = append(response, object)
		}
		if err := rows.Err(); err != nil {
			rlog.WithError(err).Errorf("Error 4102: cannot scan resource `%s`", resource)
			http.Error(w, "Error 4102", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(response, json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodGet)

	// READ
	router.HandleFunc(oneRoute, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		values, object := createScanValuesAndObject(rs)
		err = b.db.QueryRowContext(r.Context(), readQuery+"WHERE id = $1;", id).Scan(values...)
		if err == csql.ErrNoRows {
			http.Error(w, "no such "+resource, http.StatusNotFound)
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 4103: cannot read resource `%s`", resource)
			http.Error(w, "Error 4103", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodGet)

	// CREATE
	router.HandleFunc(collectionRoute, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		if !authorizeAdmin(w, r) {
			return
		}

		var bodyJSON map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&bodyJSON); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return
		}

		// keep known columns only; everything else is dropped, never
		// forwarded into the statement
		fields := map[string]interface{}{}
		for _, column := range rs.columns {
			if value, ok := bodyJSON[column]; ok && value != nil {
				fields[column] = value
			}
		}

		for _, required := range rs.required {
			value, _ := fields[required].(string)
			if len(value) == 0 {
				http.Error(w, "missing "+required, http.StatusBadRequest)
				return
			}
		}

		for column, value := range rs.defaults {
			if _, ok := fields[column]; !ok {
				fields[column] = value
			}
		}

		if rs.slugged {
			title, _ := fields["title"].(string)
			slug, _ := fields["slug"].(string)
			fields["slug"] = deriveSlug(title, slug)
		}

		queryParameters := make([]interface{}, len(rs.columns))
		for i, column := range rs.columns {
			value := fields[column]
			if rs.isStructured(column) {
				serialized, err := json.MarshalWithOption(value, json.DisableHTMLEscape())
				if err != nil {
					http.Error(w, "invalid value for "+column+": "+err.Error(), http.StatusBadRequest)
					return
				}
				value = serialized
			}
			queryParameters[i] = value
		}

		values, object := createScanValuesAndObject(rs)
		err := b.db.QueryRowContext(r.Context(), insertQuery, queryParameters...).Scan(values...)
		if isUniqueViolation(err) {
			http.Error(w, resource+" already exists", http.StatusConflict)
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 4104: cannot create resource `%s`", resource)
			http.Error(w, "Error 4104", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		b.notify(resource, core.OperationCreate, jsonData)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		w.Write(jsonData)
	}).Methods(http.MethodPost)

	// UPDATE (partial)
	router.HandleFunc(oneRoute, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		if !authorizeAdmin(w, r) {
			return
		}

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		var bodyJSON map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&bodyJSON); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return
		}

		// a new title renames the slug as well, unless the caller
		// pinned one explicitly
		if rs.slugged {
			title, hasTitle := bodyJSON["title"].(string)
			if _, hasSlug := bodyJSON["slug"]; hasTitle && !hasSlug {
				bodyJSON["slug"] = deriveSlug(title, "")
			}
		}

		object, err := b.applyPartialUpdate(r.Context(), rs, id, bodyJSON)
		if err == errNoChange {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err == errNotFound {
			http.Error(w, "no such "+resource, http.StatusNotFound)
			return
		}
		if isUniqueViolation(err) {
			http.Error(w, resource+" already exists", http.StatusConflict)
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 4105: cannot update resource `%s`", resource)
			http.Error(w, "Error 4105", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		b.notify(resource, core.OperationUpdate, jsonData)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodPatch)

	// DELETE
	router.HandleFunc(oneRoute, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		if !authorizeAdmin(w, r) {
			return
		}

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		res, err := b.db.ExecContext(r.Context(), deleteQuery, id)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4106: cannot delete resource `%s`", resource)
			http.Error(w, "Error 4106", http.StatusInternalServerError)
			return
		}
		count, err := res.RowsAffected()
		if err != nil {
			rlog.WithError(err).Errorf("Error 4107: cannot delete resource `%s`", resource)
			http.Error(w, "Error 4107", http.StatusInternalServerError)
			return
		}
		if count == 0 {
			http.Error(w, "no such "+resource, http.StatusNotFound)
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{"id": id})
		b.notify(resource, core.OperationDelete, payload)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
}
