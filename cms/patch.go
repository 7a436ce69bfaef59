package cms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webkontor/sitecms/core/csql"
)

// errNotFound is returned when no record exists at the identifier
var errNotFound = errors.New("no such record")

// errNoChange is returned when a partial update carries no applicable
// field. It is a no-op signal, not a failure: the record exists but
// there was nothing to do.
var errNoChange = errors.New("no change")

// applyPartialUpdate compiles and executes a single mutation that
// updates exactly the named columns of exactly the row matching id,
// and returns the full post-update record.
//
// Only fields on the resource's column allow-list make it into the
// statement; the identity and any unknown field names are dropped.
// Structured fields are serialized to JSON text before binding.
func (b *Backend) applyPartialUpdate(ctx context.Context, rs resourceDescriptor, id int64, fields map[string]interface{}) (map[string]interface{}, error) {
	sets := []string{}
	queryParameters := []interface{}{id}

	// iterate the descriptor, not the payload, so that caller-controlled
	// field names can never reach the statement. An explicit null is
	// treated like an absent field; the columns are all NOT NULL.
	for _, column := range rs.columns {
		value, ok := fields[column]
		if !ok || value == nil {
			continue
		}
		if rs.isStructured(column) {
			serialized, err := json.MarshalWithOption(value, json.DisableHTMLEscape())
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %s", column, err)
			}
			value = serialized
		}
		queryParameters = append(queryParameters, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(queryParameters)))
	}

	if len(sets) == 0 {
		return nil, errNoChange
	}

	returning := append([]string{"id"}, rs.columns...)
	returning = append(returning, "created_at")

	updateQuery := fmt.Sprintf("UPDATE %s.\"%s\" SET %s WHERE id = $1 RETURNING %s;",
		b.db.Schema, rs.resource, strings.Join(sets, ", "), strings.Join(returning, ", "))

	values, object := createScanValuesAndObject(rs)
	err := b.db.QueryRowContext(ctx, updateQuery, queryParameters...).Scan(values...)
	if err == csql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return object, nil
}
