package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docbook/docbook/internal/domain/scheduling"
)

// ErrNotFound matches scheduling.ErrNotFound so handlers map it to 404.
var ErrNotFound = fmt.Errorf("patient %w", scheduling.ErrNotFound)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Fields identify a patient beyond the phone number.
type Fields struct {
	Name  string
	Email *string
}

// FindOrCreate returns the doctor's patient for phone, creating it when
// missing. Non-empty fields overwrite the stored ones.
func (s *Service) FindOrCreate(ctx context.Context, phone string, doctorID uuid.UUID, f Fields) (*Patient, error) {
	norm := NormalizePhone(phone)
	if norm == "" {
		return nil, &scheduling.ValidationError{Field: "patientPhone", Message: "patientPhone must contain digits"}
	}
	if doctorID == uuid.Nil {
		return nil, &scheduling.ValidationError{Field: "doctorId", Message: "doctorId is required"}
	}
	p := &Patient{DoctorID: doctorID, Phone: norm, Name: nonEmpty(f.Name), Email: f.Email}
	if p.Email != nil {
		p.Email = nonEmpty(*p.Email)
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert patient: %w", err)
	}
	s.logger.Debug().Str("patient_id", p.ID.String()).Str("doctor_id", doctorID.String()).Msg("patient resolved")
	return p, nil
}

// FindByPhone looks the patient up without creating one.
func (s *Service) FindByPhone(ctx context.Context, phone string, doctorID uuid.UUID) (*Patient, error) {
	norm := NormalizePhone(phone)
	if norm == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByPhone(ctx, doctorID, norm)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// Directory adapts the service to the booking flow's patient lookup.
func (s *Service) Directory() scheduling.PatientDirectory { return directory{s} }

type directory struct{ s *Service }

func (d directory) FindOrCreate(ctx context.Context, phone string, doctorID uuid.UUID, f scheduling.PatientFields) (uuid.UUID, error) {
	p, err := d.s.FindOrCreate(ctx, phone, doctorID, Fields{Name: f.Name, Email: f.Email})
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (d directory) FindByPhone(ctx context.Context, phone string, doctorID uuid.UUID) (uuid.UUID, error) {
	p, err := d.s.FindByPhone(ctx, phone, doctorID)
	if errors.Is(err, ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (d directory) Owns(ctx context.Context, id, doctorID uuid.UUID) (bool, error) {
	p, err := d.s.GetPatient(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.DoctorID == doctorID, nil
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
