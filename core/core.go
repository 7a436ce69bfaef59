/*Package core holds the few declarations shared by all sitecms packages.
 */
package core

import "strings"

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// Notifier receives change notifications for content resources
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "news") {
		return singular
	}
	return singular + "s"
}
