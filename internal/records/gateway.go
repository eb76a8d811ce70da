package records

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/table"
)

// UserResolver returns the signed-in user for ctx. *session.Guard implements it.
type UserResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// Gateway is the write path. Every operation resolves the user itself
// instead of trusting a caller-supplied id, so a stale session cannot write.
type Gateway struct {
	store   table.Store
	users   UserResolver
	loader  *Loader
	log     *zap.Logger
	metrics metrics.Recorder
}

// NewGateway builds a Gateway. log and rec may be nil.
func NewGateway(store table.Store, users UserResolver, log *zap.Logger, rec metrics.Recorder) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Gateway{store: store, users: users, loader: NewLoader(store, rec), log: log, metrics: rec}
}

// SurgeonField names a surgeon column that UpdateSurgeonField may set.
type SurgeonField string

const (
	FieldPhotoURL  SurgeonField = "photo_url"
	FieldGloves    SurgeonField = "gloves"
	FieldGown      SurgeonField = "gown"
	FieldFirstName SurgeonField = "first_name"
	FieldLastName  SurgeonField = "last_name"
	FieldSpecialty SurgeonField = "specialty"
)

func (f SurgeonField) valid() bool {
	switch f {
	case FieldPhotoURL, FieldGloves, FieldGown, FieldFirstName, FieldLastName, FieldSpecialty:
		return true
	}
	return false
}

// ProcedureText is a partial update of a procedure's name and notes; nil
// fields are left unchanged.
type ProcedureText struct {
	Name             *string `json:"name,omitempty"`
	Draping          *string `json:"draping,omitempty"`
	InstrumentsTrays *string `json:"instruments_trays,omitempty"`
	WorkflowNotes    *string `json:"workflow_notes,omitempty"`
}

func (g *Gateway) user(ctx context.Context) (string, error) {
	return g.users.CurrentUserID(ctx)
}

func (g *Gateway) remote(op string, err error, fields ...zap.Field) error {
	g.log.Error("store command failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return apperr.Remote(op, err)
}

// CreateSurgeon stores a surgeon with trimmed, non-empty names.
func (g *Gateway) CreateSurgeon(ctx context.Context, firstName, lastName string) (s Surgeon, err error) {
	const op = "records.create_surgeon"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	first, last := strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if first == "" || last == "" {
		return Surgeon{}, apperr.Validation(op, "first and last name are required")
	}
	uid, err := g.user(ctx)
	if err != nil {
		return Surgeon{}, err
	}
	if _, err := scoped(op, uid); err != nil {
		return Surgeon{}, err
	}
	row, err := g.store.Insert(ctx, surgeonsTable, table.Row{"user_id": uid, "first_name": first, "last_name": last})
	if err != nil {
		return Surgeon{}, g.remote(op, err)
	}
	return parseSurgeon(op, row)
}

// CreateProcedure adds a procedure with empty notes to one of the user's surgeons.
func (g *Gateway) CreateProcedure(ctx context.Context, surgeonID, name string) (p Procedure, err error) {
	const op = "records.create_procedure"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	name = strings.TrimSpace(name)
	if name == "" {
		return Procedure{}, apperr.Validation(op, "procedure name is required")
	}
	uid, err := g.user(ctx)
	if err != nil {
		return Procedure{}, err
	}
	if _, err := scoped(op, uid, table.Eq("surgeon_id", surgeonID)); err != nil {
		return Procedure{}, err
	}
	if _, err := g.loader.LoadSurgeon(ctx, uid, surgeonID); err != nil {
		return Procedure{}, err
	}
	row, err := g.store.Insert(ctx, proceduresTable, table.Row{
		"user_id":           uid,
		"surgeon_id":        surgeonID,
		"name":              name,
		"draping":           "",
		"instruments_trays": "",
		"workflow_notes":    "",
	})
	if err != nil {
		return Procedure{}, g.remote(op, err, zap.String("surgeon_id", surgeonID))
	}
	return parseProcedure(op, row)
}

// UpdateProcedureText sets the given fields only, in a single update. A
// given name is trimmed and must not be empty.
func (g *Gateway) UpdateProcedureText(ctx context.Context, procedureID string, text ProcedureText) (err error) {
	const op = "records.update_procedure_text"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	set, err := procedureSet(op, text)
	if err != nil {
		return err
	}
	return g.updateProcedure(ctx, op, procedureID, set)
}

func procedureSet(op string, text ProcedureText) (table.Row, error) {
	set := table.Row{}
	if text.Name != nil {
		name := strings.TrimSpace(*text.Name)
		if name == "" {
			return nil, apperr.Validation(op, "procedure name is required")
		}
		set["name"] = name
	}
	if text.Draping != nil {
		set["draping"] = *text.Draping
	}
	if text.InstrumentsTrays != nil {
		set["instruments_trays"] = *text.InstrumentsTrays
	}
	if text.WorkflowNotes != nil {
		set["workflow_notes"] = *text.WorkflowNotes
	}
	if len(set) == 0 {
		return nil, apperr.Validation(op, "nothing to update")
	}
	return set, nil
}

func (g *Gateway) updateProcedure(ctx context.Context, op, procedureID string, set table.Row) error {
	uid, err := g.user(ctx)
	if err != nil {
		return err
	}
	filters, err := scoped(op, uid, table.Eq("id", procedureID))
	if err != nil {
		return err
	}
	set["updated_at"] = table.NextTimestamp()
	n, err := g.store.Update(ctx, proceduresTable, set, filters)
	if err != nil {
		return g.remote(op, err, zap.String("procedure_id", procedureID))
	}
	if n == 0 {
		return apperr.NotFound(op, "procedure not found")
	}
	return nil
}

// UpdateSurgeonField sets one surgeon column, last write wins. Name fields
// are trimmed and must stay non-empty.
func (g *Gateway) UpdateSurgeonField(ctx context.Context, surgeonID string, field SurgeonField, value string) (err error) {
	const op = "records.update_surgeon_field"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	if !field.valid() {
		return apperr.Validationf(op, "field %q cannot be updated", field)
	}
	if field == FieldFirstName || field == FieldLastName {
		value = strings.TrimSpace(value)
		if value == "" {
			return apperr.Validationf(op, "%s is required", field)
		}
	}
	return g.updateSurgeon(ctx, op, surgeonID, table.Row{string(field): value})
}

// UpdateSurgeonAttire saves glove and gown sizes together, trimmed.
func (g *Gateway) UpdateSurgeonAttire(ctx context.Context, surgeonID, gloves, gown string) (err error) {
	const op = "records.update_surgeon_attire"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	return g.updateSurgeon(ctx, op, surgeonID, table.Row{
		string(FieldGloves): strings.TrimSpace(gloves),
		string(FieldGown):   strings.TrimSpace(gown),
	})
}

func (g *Gateway) updateSurgeon(ctx context.Context, op, surgeonID string, set table.Row) error {
	uid, err := g.user(ctx)
	if err != nil {
		return err
	}
	filters, err := scoped(op, uid, table.Eq("id", surgeonID))
	if err != nil {
		return err
	}
	n, err := g.store.Update(ctx, surgeonsTable, set, filters)
	if err != nil {
		return g.remote(op, err, zap.String("surgeon_id", surgeonID))
	}
	if n == 0 {
		return apperr.NotFound(op, "surgeon not found")
	}
	return nil
}

// DeleteProcedure removes exactly one procedure of the user.
func (g *Gateway) DeleteProcedure(ctx context.Context, procedureID string) (err error) {
	const op = "records.delete_procedure"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	uid, err := g.user(ctx)
	if err != nil {
		return err
	}
	filters, err := scoped(op, uid, table.Eq("id", procedureID))
	if err != nil {
		return err
	}
	n, err := g.store.Delete(ctx, proceduresTable, filters)
	if err != nil {
		return g.remote(op, err, zap.String("procedure_id", procedureID))
	}
	if n == 0 {
		return apperr.NotFound(op, "procedure not found")
	}
	g.log.Info("procedure deleted", zap.String("procedure_id", procedureID))
	return nil
}

// DeleteSurgeon removes the surgeon's procedures, then the surgeon. Nothing
// enforces this order in the store; if the first delete fails the surgeon is
// kept and that error is returned.
func (g *Gateway) DeleteSurgeon(ctx context.Context, surgeonID string) (err error) {
	const op = "records.delete_surgeon"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	uid, err := g.user(ctx)
	if err != nil {
		return err
	}
	childFilters, err := scoped(op, uid, table.Eq("surgeon_id", surgeonID))
	if err != nil {
		return err
	}
	parentFilters, err := scoped(op, uid, table.Eq("id", surgeonID))
	if err != nil {
		return err
	}
	removed, err := g.store.Delete(ctx, proceduresTable, childFilters)
	if err != nil {
		return g.remote(op, err, zap.String("surgeon_id", surgeonID), zap.String("step", "procedures"))
	}
	n, err := g.store.Delete(ctx, surgeonsTable, parentFilters)
	if err != nil {
		return g.remote(op, err, zap.String("surgeon_id", surgeonID), zap.String("step", "surgeon"))
	}
	if n == 0 {
		return apperr.NotFound(op, "surgeon not found")
	}
	g.log.Info("surgeon deleted", zap.String("surgeon_id", surgeonID), zap.Int64("procedures", removed))
	return nil
}

// InsertPhoto records an uploaded procedure photo. The caller has already
// checked that the procedure belongs to the user.
func (g *Gateway) InsertPhoto(ctx context.Context, procedureID, url string) (p Photo, err error) {
	const op = "records.insert_photo"
	defer metrics.Track(ctx, g.metrics, op, time.Now(), &err)
	uid, err := g.user(ctx)
	if err != nil {
		return Photo{}, err
	}
	if _, err := scoped(op, uid, table.Eq("procedure_id", procedureID), table.Eq("url", url)); err != nil {
		return Photo{}, err
	}
	row, err := g.store.Insert(ctx, photosTable, table.Row{"user_id": uid, "procedure_id": procedureID, "url": url})
	if err != nil {
		return Photo{}, g.remote(op, err, zap.String("procedure_id", procedureID))
	}
	return parsePhoto(op, row)
}
