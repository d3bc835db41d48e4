package postgres

import (
	"fmt"
	"strings"

	"github.com/shoecom/stockledger/pkg/database"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

// fkResources maps the referencing column of a foreign key to the resource
// name reported to callers.
var fkResources = []struct {
	column   string
	resource string
}{
	{"variant_id", "variant"},
	{"store_id", "store"},
	{"user_id", "user"},
	{"customer_id", "customer"},
	{"adjustment_id", "adjustment"},
	{"order_id", "order"},
}

// resourceForConstraint derives the resource from a default PostgreSQL
// foreign key name such as stock_movements_variant_id_fkey.
func resourceForConstraint(constraint string) string {
	for _, fk := range fkResources {
		if strings.HasSuffix(constraint, "_"+fk.column+"_fkey") {
			return fk.resource
		}
	}
	return "reference"
}

// writeError wraps a write failure. Foreign key violations become
// ReferenceNotFound, duplicate ids a Conflict and CHECK violations (negative
// quantity, bad actor columns) InvalidInput.
func writeError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	switch constraint, isFK := database.ForeignKeyViolation(err); {
	case isFK:
		return apperrors.ReferenceNotFound(resourceForConstraint(constraint), wrapped)
	case database.IsUniqueViolation(err):
		conflict := apperrors.Conflict("ALREADY_EXISTS", op+": record already exists")
		conflict.Err = fmt.Errorf("%w: %w", apperrors.ErrConflict, wrapped)
		return conflict
	case database.IsCheckViolation(err):
		invalid := apperrors.InvalidInput(op + ": value rejected by a table constraint")
		invalid.Err = fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, wrapped)
		return invalid
	}
	return wrapped
}
