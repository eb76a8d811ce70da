package records

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/table"
)

// Loader is the read path. Callers pass the user id resolved by the session
// guard; zero rows for a single-entity load is a NotFound error.
type Loader struct {
	store   table.Store
	metrics metrics.Recorder
}

// NewLoader builds a Loader. rec may be nil.
func NewLoader(store table.Store, rec metrics.Recorder) *Loader {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Loader{store: store, metrics: rec}
}

// SurgeonDetail is a surgeon with its procedures, newest first.
type SurgeonDetail struct {
	Surgeon    Surgeon     `json:"surgeon"`
	Procedures []Procedure `json:"procedures"`
}

// ProcedureDetail is a procedure with its photos, newest first.
type ProcedureDetail struct {
	Procedure Procedure `json:"procedure"`
	Photos    []Photo   `json:"photos"`
}

var newestFirst = []table.Order{{Column: "created_at", Descending: true}}

func (l *Loader) selectRows(ctx context.Context, op, tbl string, filters []table.Filter, order []table.Order, limit int) ([]table.Row, error) {
	rows, err := l.store.Select(ctx, table.Query{Table: tbl, Filters: filters, Order: order, Limit: limit})
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	return rows, nil
}

// ListSurgeons returns every surgeon of the user ordered by last name.
func (l *Loader) ListSurgeons(ctx context.Context, userID string) (out []Surgeon, err error) {
	const op = "records.list_surgeons"
	defer metrics.Track(ctx, l.metrics, op, time.Now(), &err)
	filters, err := scoped(op, userID)
	if err != nil {
		return nil, err
	}
	rows, err := l.selectRows(ctx, op, surgeonsTable, filters, []table.Order{{Column: "last_name"}, {Column: "first_name"}}, 0)
	if err != nil {
		return nil, err
	}
	return parseAll(op, rows, parseSurgeon)
}

// LoadSurgeon returns one surgeon of the user.
func (l *Loader) LoadSurgeon(ctx context.Context, userID, surgeonID string) (s Surgeon, err error) {
	const op = "records.load_surgeon"
	defer metrics.Track(ctx, l.metrics, op, time.Now(), &err)
	filters, err := scoped(op, userID, table.Eq("id", surgeonID))
	if err != nil {
		return Surgeon{}, err
	}
	rows, err := l.selectRows(ctx, op, surgeonsTable, filters, nil, 1)
	if err != nil {
		return Surgeon{}, err
	}
	if len(rows) == 0 {
		return Surgeon{}, apperr.NotFound(op, "surgeon not found")
	}
	return parseSurgeon(op, rows[0])
}

// LoadProceduresForSurgeon returns the surgeon's procedures, newest first.
func (l *Loader) LoadProceduresForSurgeon(ctx context.Context, userID, surgeonID string) (out []Procedure, err error) {
	const op = "records.load_procedures"
	defer metrics.Track(ctx, l.metrics, op, time.Now(), &err)
	filters, err := scoped(op, userID, table.Eq("surgeon_id", surgeonID))
	if err != nil {
		return nil, err
	}
	rows, err := l.selectRows(ctx, op, proceduresTable, filters, newestFirst, 0)
	if err != nil {
		return nil, err
	}
	return parseAll(op, rows, parseProcedure)
}

// LoadProcedure returns one procedure of the user.
func (l *Loader) LoadProcedure(ctx context.Context, userID, procedureID string) (p Procedure, err error) {
	const op = "records.load_procedure"
	defer metrics.Track(ctx, l.metrics, op, time.Now(), &err)
	filters, err := scoped(op, userID, table.Eq("id", procedureID))
	if err != nil {
		return Procedure{}, err
	}
	rows, err := l.selectRows(ctx, op, proceduresTable, filters, nil, 1)
	if err != nil {
		return Procedure{}, err
	}
	if len(rows) == 0 {
		return Procedure{}, apperr.NotFound(op, "procedure not found")
	}
	return parseProcedure(op, rows[0])
}

// LoadPhotos returns the procedure's photos, newest first.
func (l *Loader) LoadPhotos(ctx context.Context, userID, procedureID string) (out []Photo, err error) {
	const op = "records.load_photos"
	defer metrics.Track(ctx, l.metrics, op, time.Now(), &err)
	filters, err := scoped(op, userID, table.Eq("procedure_id", procedureID))
	if err != nil {
		return nil, err
	}
	rows, err := l.selectRows(ctx, op, photosTable, filters, newestFirst, 0)
	if err != nil {
		return nil, err
	}
	return parseAll(op, rows, parsePhoto)
}

// LoadSurgeonDetail fetches the surgeon and its procedures concurrently; both
// must succeed.
func (l *Loader) LoadSurgeonDetail(ctx context.Context, userID, surgeonID string) (SurgeonDetail, error) {
	var d SurgeonDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Surgeon, err = l.LoadSurgeon(gctx, userID, surgeonID)
		return err
	})
	g.Go(func() (err error) {
		d.Procedures, err = l.LoadProceduresForSurgeon(gctx, userID, surgeonID)
		return err
	})
	if err := g.Wait(); err != nil {
		return SurgeonDetail{}, err
	}
	return d, nil
}

// LoadProcedureDetail fetches the procedure and its photos concurrently. When
// surgeonID is non-empty the procedure must belong to that surgeon.
func (l *Loader) LoadProcedureDetail(ctx context.Context, userID, surgeonID, procedureID string) (ProcedureDetail, error) {
	var d ProcedureDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Procedure, err = l.LoadProcedure(gctx, userID, procedureID)
		return err
	})
	g.Go(func() (err error) {
		d.Photos, err = l.LoadPhotos(gctx, userID, procedureID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ProcedureDetail{}, err
	}
	if surgeonID != "" && d.Procedure.SurgeonID != surgeonID {
		return ProcedureDetail{}, apperr.NotFound("records.load_procedure", "procedure not found")
	}
	return d, nil
}
