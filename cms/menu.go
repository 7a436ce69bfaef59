package cms

import (
	"fmt"

	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/webkontor/sitecms/core/logger"
)

// createMenuRoute adds the read-only menu projection: active product
// categories with their subcategory lists plus active service
// categories, both ordered by sort position and reduced to the fields
// a navigation menu needs. Inactive records are excluded entirely.
//
// The two reads are independent; staleness between them is acceptable,
// so no transaction is used.
func (b *Backend) createMenuRoute(router *mux.Router) {
	schemaName := b.db.Schema

	logger.Default().Debugln("  handle route: /menu GET")

	productQuery := fmt.Sprintf("SELECT id, title, slug, subcategories FROM %s.\"product_category\" WHERE is_active ORDER BY sort_order ASC, id ASC;", schemaName)
	serviceQuery := fmt.Sprintf("SELECT id, title, slug FROM %s.\"service_category\" WHERE is_active ORDER BY sort_order ASC, id ASC;", schemaName)

	router.HandleFunc("/menu", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		type productEntry struct {
			ID            int64           `json:"id"`
			Title         string          `json:"title"`
			Slug          string          `json:"slug"`
			Subcategories json.RawMessage `json:"subcategories"`
		}
		type serviceEntry struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
			Slug  string `json:"slug"`
		}

		productCategories := []productEntry{}
		rows, err := b.db.QueryContext(r.Context(), productQuery)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4120: cannot read menu")
			http.Error(w, "Error 4120", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var entry productEntry
			if err := rows.Scan(&entry.ID, &entry.Title, &entry.Slug, &entry.Subcategories); err != nil {
				rlog.WithError(err).Errorln("Error 4121: cannot scan menu")
				http.Error(w, "Error 4121", http.StatusInternalServerError)
				return
			}
			productCategories = append(productCategories, entry)
		}
		if err := rows.Err(); err != nil {
			rlog.WithError(err).Errorln("Error 4121: cannot scan menu")
			http.Error(w, "Error 4121", http.StatusInternalServerError)
			return
		}

		serviceCategories := []serviceEntry{}
		rows, err = b.db.QueryContext(r.Context(), serviceQuery)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4122: cannot read menu")
			http.Error(w, "Error 4122", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var entry serviceEntry
			if err := rows.Scan(&entry.ID, &entry.Title, &entry.Slug); err != nil {
				rlog.WithError(err).Errorln("Error 4123: cannot scan menu")
				http.Error(w, "Error 4123", http.StatusInternalServerError)
				return
			}
			serviceCategories = append(serviceCategories, entry)
		}
		if err := rows.Err(); err != nil {
			rlog.WithError(err).Errorln("Error 4123: cannot scan menu")
			http.Error(w, "Error 4123", http.StatusInternalServerError)
			return
		}

		response := map[string]interface{}{
			"product_categories": productCategories,
			"service_categories": serviceCategories,
		}
		jsonData, _ := json.MarshalWithOption(response, json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
