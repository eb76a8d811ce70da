package records

import (
	"errors"
	"strings"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/table"
)

var errNoOwner = errors.New("command has no owner scope")

// scoped builds the filter list for one command: the owner first, then the
// parent or row ids. A missing owner or id stops the command before it
// reaches the store.
func scoped(op, userID string, ids ...table.Filter) ([]table.Filter, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Auth(op, errNoOwner)
	}
	filters := make([]table.Filter, 0, len(ids)+1)
	filters = append(filters, table.Eq("user_id", userID))
	for _, f := range ids {
		v, ok := f.Value.(string)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, apperr.Validationf(op, "%s is required", f.Column)
		}
		filters = append(filters, f)
	}
	return filters, nil
}
