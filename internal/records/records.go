// Package records holds the surgeon, procedure and procedure-photo schemas
// together with their read path (Loader) and write path (Gateway). Every
// command it sends to the table store is scoped by the owning user and, for
// child rows, the parent id.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/table"
)

const (
	surgeonsTable   = "surgeons"
	proceduresTable = "procedures"
	photosTable     = "procedure_photos"
)

// Surgeon is one surgeon card owned by a user.
type Surgeon struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Specialty string    `json:"specialty,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Gloves    string    `json:"gloves,omitempty"`
	Gown      string    `json:"gown,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Procedure is a surgeon's preference card for one operation.
type Procedure struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SurgeonID        string     `json:"surgeon_id"`
	Name             string     `json:"name"`
	Draping          string     `json:"draping"`
	InstrumentsTrays string     `json:"instruments_trays"`
	WorkflowNotes    string     `json:"workflow_notes"`
	SetupPhotos      []string   `json:"setup_photos,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Photo is a reference photo attached to a procedure.
type Photo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ProcedureID string    `json:"procedure_id"`
	URL         string    `json:"url"`
	Caption     string    `json:"caption,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// rowReader pulls typed fields out of a row and remembers the first problem.
type rowReader struct {
	table string
	row   table.Row
	err   error
}

func (r *rowReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("malformed %s row: "+format, append([]any{r.table}, args...)...)
	}
}

func (r *rowReader) required(col string) string {
	v, ok := r.row[col].(string)
	if !ok || v == "" {
		r.fail("%s missing or not text", col)
	}
	return v
}

// text reads a NOT NULL column that may hold the empty string.
func (r *rowReader) text(col string) string {
	v, ok := r.row[col].(string)
	if !ok {
		r.fail("%s missing or not text", col)
	}
	return v
}

func (r *rowReader) optional(col string) string {
	switch v := r.row[col].(type) {
	case nil:
		return ""
	case string:
		return v
	}
	r.fail("%s not text", col)
	return ""
}

func (r *rowReader) timestamp(col string) time.Time {
	v, ok := r.row[col].(int64)
	if !ok {
		r.fail("%s missing or not an integer", col)
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func (r *rowReader) optionalTimestamp(col string) *time.Time {
	if r.row[col] == nil {
		return nil
	}
	t := r.timestamp(col)
	return &t
}

func (r *rowReader) stringList(col string) []string {
	raw := r.optional(col)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.fail("%s is not a JSON string array", col)
		return nil
	}
	return out
}

func (r *rowReader) done(op string) error {
	if r.err == nil {
		return nil
	}
	return &apperr.Error{Kind: apperr.KindRemote, Op: op, Message: r.err.Error(), Err: r.err}
}

func parseSurgeon(op string, row table.Row) (Surgeon, error) {
	r := &rowReader{table: surgeonsTable, row: row}
	s := Surgeon{
		ID:        r.required("id"),
		UserID:    r.required("user_id"),
		FirstName: r.required("first_name"),
		LastName:  r.required("last_name"),
		Specialty: r.optional("specialty"),
		PhotoURL:  r.optional("photo_url"),
		Gloves:    r.optional("gloves"),
		Gown:      r.optional("gown"),
		CreatedAt: r.timestamp("created_at"),
	}
	if err := r.done(op); err != nil {
		return Surgeon{}, err
	}
	return s, nil
}

func parseProcedure(op string, row table.Row) (Procedure, error) {
	r := &rowReader{table: proceduresTable, row: row}
	p := Procedure{
		ID:               r.required("id"),
		UserID:           r.required("user_id"),
		SurgeonID:        r.required("surgeon_id"),
		Name:             r.required("name"),
		Draping:          r.text("draping"),
		InstrumentsTrays: r.text("instruments_trays"),
		WorkflowNotes:    r.text("workflow_notes"),
		SetupPhotos:      r.stringList("setup_photos"),
		CreatedAt:        r.timestamp("created_at"),
		UpdatedAt:        r.optionalTimestamp("updated_at"),
	}
	if err := r.done(op); err != nil {
		return Procedure{}, err
	}
	return p, nil
}

func parsePhoto(op string, row table.Row) (Photo, error) {
	r := &rowReader{table: photosTable, row: row}
	p := Photo{
		ID:          r.required("id"),
		UserID:      r.required("user_id"),
		ProcedureID: r.required("procedure_id"),
		URL:         r.required("url"),
		Caption:     r.optional("caption"),
		CreatedAt:   r.timestamp("created_at"),
	}
	if err := r.done(op); err != nil {
		return Photo{}, err
	}
	return p, nil
}

func parseAll[T any](op string, rows []table.Row, parse func(string, table.Row) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := parse(op, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
