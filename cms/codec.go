package cms

// resourceDescriptor describes one content resource: its table, its
// writable columns and how each column is treated at the storage
// boundary. The column list is the complete allow-list for inbound
// payloads; field names outside of it are never forwarded into a
// storage statement.
type resourceDescriptor struct {
	// resource is the singular resource name, which is also the table name
	resource string
	// columns are the writable columns in table order, excluding id and created_at
	columns []string
	// structured columns are stored as JSON text and are opaque to the query engine
	structured map[string]bool
	// required columns must be non-empty on creation
	required []string
	// slugged resources get a derived slug when none is supplied
	slugged bool
	// defaults are applied for absent optional fields on creation
	defaults map[string]interface{}
}

// the fixed set of content resources served by this backend
var contentResources = []resourceDescriptor{
	{
		resource:   "product_category",
		columns:    []string{"title", "slug", "sort_order", "is_active", "subcategories"},
		structured: map[string]bool{"subcategories": true},
		slugged:    true,
		defaults: map[string]interface{}{
			"title":         "",
			"sort_order":    0,
			"is_active":     true,
			"subcategories": []interface{}{},
		},
	},
	{
		resource: "service_category",
		columns:  []string{"title", "slug", "sort_order", "is_active"},
		slugged:  true,
		defaults: map[string]interface{}{
			"title":      "",
			"sort_order": 0,
			"is_active":  true,
		},
	},
	{
		resource: "product",
		columns:  []string{"category", "subcategory", "name", "description", "image_url", "cta_url", "sort_order", "is_active"},
		required: []string{"category", "name"},
		defaults: map[string]interface{}{
			"subcategory": "",
			"description": "",
			"image_url":   "",
			"cta_url":     "",
			"sort_order":  0,
			"is_active":   true,
		},
	},
	{
		resource: "service",
		columns:  []string{"title", "description", "image_url", "sort_order", "is_active"},
		defaults: map[string]interface{}{
			"title":       "",
			"description": "",
			"image_url":   "",
			"sort_order":  0,
			"is_active":   true,
		},
	},
	{
		resource: "news",
		columns:  []string{"title", "body", "image_url", "sort_order", "is_active"},
		defaults: map[string]interface{}{
			"title":      "",
			"body":       "",
			"image_url":  "",
			"sort_order": 0,
			"is_active":  true,
		},
	},
	{
		resource: "certification",
		columns:  []string{"title", "description", "image_url", "sort_order"},
		defaults: map[string]interface{}{
			"title":       "",
			"description": "",
			"image_url":   "",
			"sort_order":  0,
		},
	},
	{
		resource: "customer_logo",
		columns:  []string{"name", "image_url", "sort_order"},
		defaults: map[string]interface{}{
			"name":       "",
			"image_url":  "",
			"sort_order": 0,
		},
	},
}

// contactPageResource is the singleton contact page. It is not part of
// contentResources because it follows upsert semantics instead of the
// generic collection routes.
var contactPageResource = resourceDescriptor{
	resource: "contact_page",
	columns: []string{"heading", "description", "email", "phone",
		"messenger_label", "messenger_url", "messenger_icon_url",
		"address_lines", "open_hours", "map_title", "map_embed_url"},
	structured: map[string]bool{"address_lines": true},
	defaults: map[string]interface{}{
		"heading":            "",
		"description":        "",
		"email":              "",
		"phone":              "",
		"messenger_label":    "",
		"messenger_url":      "",
		"messenger_icon_url": "",
		"address_lines":      []interface{}{},
		"open_hours":         "",
		"map_title":          "",
		"map_embed_url":      "",
	},
}

// isStructured answers whether a field of this resource is stored as
// JSON text. Unmapped fields of the resource are scalar.
func (rs resourceDescriptor) isStructured(field string) bool {
	return rs.structured[field]
}

// knowsColumn answers whether field is a writable column of this resource
func (rs resourceDescriptor) knowsColumn(field string) bool {
	for _, c := range rs.columns {
		if c == field {
			return true
		}
	}
	return false
}

// hasColumn answers whether field is any column of this resource,
// including the server-assigned ones
func (rs resourceDescriptor) hasColumn(field string) bool {
	return field == "id" || field == "created_at" || rs.knowsColumn(field)
}
