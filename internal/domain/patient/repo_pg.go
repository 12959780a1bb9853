package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docbook/docbook/internal/platform/db"
)

// =========== Patient Repository ===========

type repoPG struct{ q db.Querier }

func NewRepoPG(q db.Querier) Repository { return &repoPG{q: q} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.q) }

const patientCols = `id, doctor_id, phone, name, email, created_at, updated_at`

func (r *repoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.DoctorID, &p.Phone, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Upsert(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, doctor_id, phone, name, email)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (doctor_id, phone) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, patient.name),
			email = COALESCE(EXCLUDED.email, patient.email),
			updated_at = NOW()
		RETURNING id, name, email, created_at, updated_at`,
		p.ID, p.DoctorID, p.Phone, p.Name, p.Email,
	).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByPhone(ctx context.Context, doctorID uuid.UUID, phone string) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE doctor_id = $1 AND phone = $2`, doctorID, phone))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return p, err
}
