package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert inserts the patient or, when (doctor_id, phone) exists, fills
	// in the non-nil fields of the existing row. p is updated in place.
	Upsert(ctx context.Context, p *Patient) error
	GetByPhone(ctx context.Context, doctorID uuid.UUID, phone string) (*Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
