package ads

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
)

const maxTxAttempts = 3

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles ad inventory persistence in PostgreSQL.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository creates an ads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{db: pool}, pool: pool}
}

// InTx runs fn in a SERIALIZABLE transaction, retrying serialization failures.
func (r *Repository) InTx(ctx context.Context, fn func(q Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(&queries{db: tx})
		})
		if !isRetryable(err) {
			return mapPgError(err)
		}
	}
	return apperr.Unavailable(fmt.Errorf("transaction retries exhausted: %w", err))
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// mapPgError turns constraint violations into API errors. Other errors pass through.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.ConstraintName {
	case "adslots_name_key":
		return apperr.InvalidParam("name", "Duplicate name.")
	case "adslots_alias_key":
		return apperr.InvalidParam("alias", "Duplicate alias.")
	}
	return err
}

type queries struct {
	db dbtx
}

const slotColumns = `id, name, alias, description, price, width, height, num_slots, num_auto_fill, auto_fill, version, created_at, updated_at`

func scanSlot(row pgx.Row, s *models.AdSlot) error {
	return row.Scan(&s.ID, &s.Name, &s.Alias, &s.Description, &s.Price, &s.Width, &s.Height,
		&s.NumSlots, &s.NumAutoFill, &s.AutoFill, &s.Version, &s.CreatedAt, &s.UpdatedAt)
}

func (q *queries) getSlot(ctx context.Context, query string, id uuid.UUID) (*models.AdSlot, error) {
	var s models.AdSlot
	err := scanSlot(q.db.QueryRow(ctx, query, id), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSlots returns all slots ordered by name.
func (q *queries) ListSlots(ctx context.Context) ([]models.AdSlot, error) {
	rows, err := q.db.Query(ctx, `SELECT `+slotColumns+` FROM adslots ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AdSlot
	for rows.Next() {
		var s models.AdSlot
		if err := scanSlot(rows, &s); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// GetSlot returns a slot by ID.
func (q *queries) GetSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	return q.getSlot(ctx, `SELECT `+slotColumns+` FROM adslots WHERE id = $1`, id)
}

// LockSlot returns a slot by ID and locks its row.
func (q *queries) LockSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	return q.getSlot(ctx, `SELECT `+slotColumns+` FROM adslots WHERE id = $1 FOR UPDATE`, id)
}

// SlotExists reports whether another slot uses name or alias.
func (q *queries) SlotExists(ctx context.Context, name, alias string, excludeID uuid.UUID) (bool, bool, error) {
	const query = `SELECT
		EXISTS (SELECT 1 FROM adslots WHERE name = $1 AND id <> $3),
		EXISTS (SELECT 1 FROM adslots WHERE alias = $2 AND id <> $3)`
	var nameTaken, aliasTaken bool
	if err := q.db.QueryRow(ctx, query, name, alias, excludeID).Scan(&nameTaken, &aliasTaken); err != nil {
		return false, false, err
	}
	return nameTaken, aliasTaken, nil
}

// InsertSlot inserts a slot with a caller-assigned ID.
func (q *queries) InsertSlot(ctx context.Context, s *models.AdSlot) error {
	const query = `INSERT INTO adslots (id, name, alias, description, price, width, height, num_slots, num_auto_fill, auto_fill)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`
	return q.db.QueryRow(ctx, query, s.ID, s.Name, s.Alias, s.Description, s.Price, s.Width, s.Height,
		s.NumSlots, s.NumAutoFill, s.AutoFill).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
}

// UpdateSlot writes the mutable fields if the version matches.
func (q *queries) UpdateSlot(ctx context.Context, s *models.AdSlot) error {
	const query = `UPDATE adslots SET name = $2, alias = $3, description = $4, price = $5,
		num_slots = $6, num_auto_fill = $7, auto_fill = $8, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $9
		RETURNING version, updated_at`
	err := q.db.QueryRow(ctx, query, s.ID, s.Name, s.Alias, s.Description, s.Price,
		s.NumSlots, s.NumAutoFill, s.AutoFill, s.Version).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("version", "AdSlot was modified concurrently.")
	}
	return err
}

// DeleteSlot deletes a slot by ID.
func (q *queries) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM adslots WHERE id = $1`, id)
	return err
}

const periodSelect = `SELECT p.id, p.adslot_id, p.user_id, COALESCE(u.name, ''), p.start_at, p.end_at,
	p.display_order, p.version, p.created_at, p.updated_at
	FROM adperiods p LEFT JOIN users u ON u.id = p.user_id`

func scanPeriod(row pgx.Row, p *models.AdPeriod) error {
	var start, end string
	err := row.Scan(&p.ID, &p.SlotID, &p.SponsorID, &p.SponsorName, &start, &end,
		&p.DisplayOrder, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	p.StartAt, p.EndAt = models.Date(start), models.Date(end)
	return err
}

// periodWhere builds the WHERE clause for f starting at placeholder $1.
func periodWhere(f PeriodFilter) (string, []any) {
	where := ` WHERE TRUE`
	var args []any
	if f.SlotID != nil {
		args = append(args, *f.SlotID)
		where += fmt.Sprintf(` AND p.adslot_id = $%d`, len(args))
	}
	if f.SponsorID != nil {
		args = append(args, *f.SponsorID)
		where += fmt.Sprintf(` AND p.user_id = $%d`, len(args))
	}
	if f.ActiveOn != "" {
		args = append(args, string(f.ActiveOn))
		where += fmt.Sprintf(` AND p.start_at <= $%d AND p.end_at > $%d`, len(args), len(args))
	}
	if f.UnexpiredOn != "" {
		args = append(args, string(f.UnexpiredOn))
		where += fmt.Sprintf(` AND p.end_at > $%d`, len(args))
	}
	return where, args
}

// ListPeriods returns periods matching f ordered by display_order then id.
func (q *queries) ListPeriods(ctx context.Context, f PeriodFilter) ([]models.AdPeriod, error) {
	where, args := periodWhere(f)
	rows, err := q.db.Query(ctx, periodSelect+where+` ORDER BY p.display_order, p.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AdPeriod
	for rows.Next() {
		var p models.AdPeriod
		if err := scanPeriod(rows, &p); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (q *queries) getPeriod(ctx context.Context, query string, id uuid.UUID) (*models.AdPeriod, error) {
	var p models.AdPeriod
	err := scanPeriod(q.db.QueryRow(ctx, query, id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPeriod returns a period by ID.
func (q *queries) GetPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	return q.getPeriod(ctx, periodSelect+` WHERE p.id = $1`, id)
}

// LockPeriod returns a period by ID and locks its row.
func (q *queries) LockPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	return q.getPeriod(ctx, periodSelect+` WHERE p.id = $1 FOR UPDATE OF p`, id)
}

// CountPeriods counts periods matching f.
func (q *queries) CountPeriods(ctx context.Context, f PeriodFilter) (int, error) {
	where, args := periodWhere(f)
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM adperiods p`+where, args...).Scan(&n)
	return n, err
}

// MaxDisplayOrder returns the largest display_order over all periods.
func (q *queries) MaxDisplayOrder(ctx context.Context) (int64, bool, error) {
	var max *int64
	if err := q.db.QueryRow(ctx, `SELECT MAX(display_order) FROM adperiods`).Scan(&max); err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// InsertPeriod inserts a period with a caller-assigned ID.
func (q *queries) InsertPeriod(ctx context.Context, p *models.AdPeriod) error {
	const query = `INSERT INTO adperiods (id, adslot_id, user_id, start_at, end_at, display_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, created_at, updated_at`
	return q.db.QueryRow(ctx, query, p.ID, p.SlotID, p.SponsorID, string(p.StartAt), string(p.EndAt), p.DisplayOrder).
		Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePeriodEnd writes end_at if the version matches.
func (q *queries) UpdatePeriodEnd(ctx context.Context, p *models.AdPeriod) error {
	const query = `UPDATE adperiods SET end_at = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING version, updated_at`
	err := q.db.QueryRow(ctx, query, p.ID, string(p.EndAt), p.Version).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("version", "AdPeriod was modified concurrently.")
	}
	return err
}

// DeletePeriod deletes a period by ID.
func (q *queries) DeletePeriod(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM adperiods WHERE id = $1`, id)
	return err
}

const materialColumns = `id, adperiod_id, user_id, cover_id, weight, start_at, end_at, geo, keywords, url, created_at`

func scanMaterial(row pgx.Row, m *models.AdMaterial) error {
	var start, end string
	err := row.Scan(&m.ID, &m.PeriodID, &m.SponsorID, &m.CoverRef, &m.Weight, &start, &end,
		&m.Geo, &m.Keywords, &m.URL, &m.CreatedAt)
	m.StartAt, m.EndAt = models.Date(start), models.Date(end)
	return err
}

// ListMaterials returns materials matching f, oldest first.
func (q *queries) ListMaterials(ctx context.Context, f MaterialFilter) ([]models.AdMaterial, error) {
	query := `SELECT ` + materialColumns + ` FROM admaterials WHERE TRUE`
	var args []any
	if f.PeriodID != nil {
		args = append(args, *f.PeriodID)
		query += fmt.Sprintf(` AND adperiod_id = $%d`, len(args))
	}
	if len(f.PeriodIDs) > 0 {
		ids := make([]string, len(f.PeriodIDs))
		for i, id := range f.PeriodIDs {
			ids[i] = id.String()
		}
		args = append(args, ids)
		query += fmt.Sprintf(` AND adperiod_id = ANY($%d::uuid[])`, len(args))
	}
	if f.SponsorID != nil {
		args = append(args, *f.SponsorID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	rows, err := q.db.Query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AdMaterial
	for rows.Next() {
		var m models.AdMaterial
		if err := scanMaterial(rows, &m); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// GetMaterial returns a material by ID.
func (q *queries) GetMaterial(ctx context.Context, id uuid.UUID) (*models.AdMaterial, error) {
	var m models.AdMaterial
	err := scanMaterial(q.db.QueryRow(ctx, `SELECT `+materialColumns+` FROM admaterials WHERE id = $1`, id), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMaterials counts the materials of a period.
func (q *queries) CountMaterials(ctx context.Context, periodID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM admaterials WHERE adperiod_id = $1`, periodID).Scan(&n)
	return n, err
}

// InsertMaterial inserts a material with a caller-assigned ID.
func (q *queries) InsertMaterial(ctx context.Context, m *models.AdMaterial) error {
	const query = `INSERT INTO admaterials (id, adperiod_id, user_id, cover_id, weight, start_at, end_at, geo, keywords, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	return q.db.QueryRow(ctx, query, m.ID, m.PeriodID, m.SponsorID, m.CoverRef, m.Weight,
		string(m.StartAt), string(m.EndAt), m.Geo, m.Keywords, m.URL).Scan(&m.CreatedAt)
}

// DeleteMaterial deletes a material by ID.
func (q *queries) DeleteMaterial(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM admaterials WHERE id = $1`, id)
	return err
}

// DeleteMaterialsByPeriod deletes a period's materials and returns their cover refs.
func (q *queries) DeleteMaterialsByPeriod(ctx context.Context, periodID uuid.UUID) ([]string, error) {
	rows, err := q.db.Query(ctx, `DELETE FROM admaterials WHERE adperiod_id = $1 RETURNING cover_id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
