package rx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PgSignatureStore is the PostgreSQL signature store.
type PgSignatureStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSignatureStore creates a signature store over pool.
func NewPgSignatureStore(pool *pgxpool.Pool, logger *zap.Logger) *PgSignatureStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgSignatureStore{pool: pool, logger: logger}
}

const selectSignature = `
	SELECT id, provider_id, kind, dea_number, issued_at, expires_at, revoked
	FROM electronic_signatures`

// LatestExplicit returns the provider's most recent explicit signature, or
// nil when the provider has never issued one.
func (s *PgSignatureStore) LatestExplicit(ctx context.Context, providerID string) (*Signature, error) {
	sig, err := scanSignature(s.pool.QueryRow(ctx,
		selectSignature+` WHERE provider_id = $1 AND kind = $2 ORDER BY issued_at DESC LIMIT 1`,
		providerID, SignatureExplicit))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sig, err
}

// Get loads a signature by id.
func (s *PgSignatureStore) Get(ctx context.Context, id string) (*Signature, error) {
	sig, err := scanSignature(s.pool.QueryRow(ctx, selectSignature+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("signature %s: %w", id, ErrNotFound)
	}
	return sig, err
}

// Insert persists a signature.
func (s *PgSignatureStore) Insert(ctx context.Context, sig *Signature) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO electronic_signatures (id, provider_id, kind, dea_number, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sig.ID, sig.ProviderID, sig.Kind, nullIfEmpty(sig.DEANumber), sig.IssuedAt, sig.ExpiresAt, sig.Revoked)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func scanSignature(row rowScanner) (*Signature, error) {
	sig := &Signature{}
	var dea *string
	err := row.Scan(&sig.ID, &sig.ProviderID, &sig.Kind, &dea, &sig.IssuedAt, &sig.ExpiresAt, &sig.Revoked)
	if err != nil {
		return nil, err
	}
	if dea != nil {
		sig.DEANumber = *dea
	}
	return sig, nil
}

// PgDirectory is the PostgreSQL pharmacy directory. Candidate history is
// derived from the transmission ledger itself, so fill success reflects what
// this subsystem actually delivered.
type PgDirectory struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgDirectory creates a pharmacy directory over pool.
func NewPgDirectory(pool *pgxpool.Pool, logger *zap.Logger) *PgDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgDirectory{pool: pool, logger: logger}
}

const selectPharmacy = `
	SELECT id, name, ncpdp_id, phone, fax_number, address,
	       accepts_electronic, can_handle_controlled, can_compound, open_24_hours, active
	FROM pharmacies`

// Get loads a pharmacy by id.
func (d *PgDirectory) Get(ctx context.Context, id string) (*Pharmacy, error) {
	p, err := scanPharmacy(d.pool.QueryRow(ctx, selectPharmacy+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pharmacy %s: %w", id, ErrNotFound)
	}
	return p, err
}

// Candidates returns all active pharmacies with the patient's fill history
// at each, for selector ranking.
func (d *PgDirectory) Candidates(ctx context.Context, patientID string) ([]*Candidate, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT p.id, p.name, p.ncpdp_id, p.phone, p.fax_number, p.address,
		       p.accepts_electronic, p.can_handle_controlled, p.can_compound, p.open_24_hours, p.active,
		       h.last_used, COALESCE(h.fill_count, 0), COALESCE(h.success_rate, 0)
		FROM pharmacies p
		LEFT JOIN (
			SELECT pharmacy_id,
			       MAX(created_at) AS last_used,
			       COUNT(*) AS fill_count,
			       AVG(CASE WHEN state IN ('sent', 'printed', 'faxed') THEN 1.0 ELSE 0.0 END) AS success_rate
			FROM prescription_transmissions
			WHERE patient_id = $1
			GROUP BY pharmacy_id
		) h ON h.pharmacy_id = p.id
		WHERE p.active
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c := &Candidate{Pharmacy: &Pharmacy{}}
		p := c.Pharmacy
		var phone, fax, address *string
		err := rows.Scan(&p.ID, &p.Name, &p.NCPDPID, &phone, &fax, &address,
			&p.AcceptsElectronic, &p.CanHandleControlled, &p.CanCompound, &p.Open24Hours, &p.Active,
			&c.LastUsed, &c.FillCount, &c.FillSuccessRate)
		if err != nil {
			return nil, err
		}
		assignString(&p.Phone, phone)
		assignString(&p.FaxNumber, fax)
		assignString(&p.Address, address)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func scanPharmacy(row rowScanner) (*Pharmacy, error) {
	p := &Pharmacy{}
	var phone, fax, address *string
	err := row.Scan(&p.ID, &p.Name, &p.NCPDPID, &phone, &fax, &address,
		&p.AcceptsElectronic, &p.CanHandleControlled, &p.CanCompound, &p.Open24Hours, &p.Active)
	if err != nil {
		return nil, err
	}
	assignString(&p.Phone, phone)
	assignString(&p.FaxNumber, fax)
	assignString(&p.Address, address)
	return p, nil
}

// EMRStore gives read access to the EMR core's records. No writes happen
// here; the refill decrement lives in RefillProcessor.
type EMRStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewEMRStore creates a read-only EMR accessor over pool.
func NewEMRStore(pool *pgxpool.Pool, logger *zap.Logger) *EMRStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EMRStore{pool: pool, logger: logger}
}

// GetMedication loads a medication by id.
func (s *EMRStore) GetMedication(ctx context.Context, id string) (*Medication, error) {
	m := &Medication{}
	var schedule *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, ndc, strength, form, schedule_class, is_compound
		FROM medications WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.NDC, &m.Strength, &m.Form, &schedule, &m.IsCompound)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("medication %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	assignString(&m.ScheduleClass, schedule)
	return m, nil
}

// GetOrder loads an order by id.
func (s *EMRStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o := &Order{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, medication_id, patient_id, provider_id, quantity, quantity_unit,
		       days_supply, refills_remaining, sig, substitution_allowed, written_date
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.MedicationID, &o.PatientID, &o.ProviderID, &o.Quantity, &o.QuantityUnit,
		&o.DaysSupply, &o.RefillsRemaining, &o.Sig, &o.SubstitutionAllowed, &o.WrittenDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetPatient loads a patient by id.
func (s *EMRStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	p := &Patient{}
	var phone, address *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, mrn, phone, address
		FROM patients WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.MRN, &phone, &address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	assignString(&p.Phone, phone)
	assignString(&p.Address, address)
	return p, nil
}

// GetProvider loads a provider by id.
func (s *EMRStore) GetProvider(ctx context.Context, id string) (*Provider, error) {
	p := &Provider{}
	var dea, phone *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, npi, dea_number, phone
		FROM providers WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.NPI, &dea, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	assignString(&p.DEANumber, dea)
	assignString(&p.Phone, phone)
	return p, nil
}

func assignString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
