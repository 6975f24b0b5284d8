package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reduction ID does not exist.
var ErrNotFound = errors.New("reduction not found")

// Reduction statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Reduction is one persisted dome seeing run over a CFD sample file.
// OPD statistics are NaN when no ray was valid; PSSn is nil when the
// sharpness stage was skipped or failed.
type Reduction struct {
	ReductionID       string             `json:"reduction_id"`
	CaseKey           string             `json:"case_key"`
	WavelengthMicrons float64            `json:"wavelength_um"`
	NPx               int                `json:"npx"`
	PSSn              *float64           `json:"pssn,omitempty"`
	OPDRMS            float64            `json:"opd_rms"`
	OPDPV             float64            `json:"opd_pv"`
	OPDMin            float64            `json:"opd_min"`
	OPDMax            float64            `json:"opd_max"`
	ValidRays         int                `json:"valid_rays"`
	SampleCount       int                `json:"sample_count"`
	OutputKey         string             `json:"output_key,omitempty"`
	Status            string             `json:"status"`
	Error             string             `json:"error,omitempty"`
	DurationMS        int64              `json:"duration_ms"`
	StageDurations    map[string]float64 `json:"stage_durations,omitempty"`
	ParamsJSON        json.RawMessage    `json:"params_json,omitempty"`
	CreatedAt         int64              `json:"created_at"`
}

// ReductionStore provides persistence for reductions.
type ReductionStore struct {
	db *sql.DB
}

// NewReductionStore creates a new ReductionStore.
func NewReductionStore(db *sql.DB) *ReductionStore {
	return &ReductionStore{db: db}
}

const reductionColumns = `reduction_id, case_key, wavelength_um, npx, pssn,
	opd_rms, opd_pv, opd_min, opd_max, valid_rays, sample_count,
	output_key, status, error, duration_ms, stage_durations_json,
	params_json, created_at`

// Insert persists a reduction. If ReductionID is empty, a UUID is generated.
func (s *ReductionStore) Insert(ctx context.Context, r *Reduction) error {
	if r.CaseKey == "" {
		return fmt.Errorf("reduction has no case key")
	}
	if r.ReductionID == "" {
		r.ReductionID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}
	if r.Status == "" {
		r.Status = StatusOK
	}

	var stages interface{}
	if len(r.StageDurations) > 0 {
		b, err := json.Marshal(r.StageDurations)
		if err != nil {
			return fmt.Errorf("marshal stage durations: %w", err)
		}
		stages = string(b)
	}
	var params interface{}
	if len(r.ParamsJSON) > 0 {
		params = string(r.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reductions (`+reductionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ReductionID, r.CaseKey, r.WavelengthMicrons, r.NPx, nullFloatPtr(r.PSSn),
			nullFloat(r.OPDRMS), nullFloat(r.OPDPV), nullFloat(r.OPDMin), nullFloat(r.OPDMax),
			r.ValidRays, r.SampleCount,
			nullString(r.OutputKey), r.Status, nullString(r.Error), r.DurationMS, stages,
			params, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert reduction: %w", err)
		}
		return nil
	})
}

// Get returns a single reduction by ID.
func (s *ReductionStore) Get(ctx context.Context, reductionID string) (*Reduction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reductionColumns+`
		FROM reductions
		WHERE reduction_id = ?`, reductionID)

	r, err := scanReduction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, reductionID)
		}
		return nil, err
	}
	return r, nil
}

// ListByCase returns the reductions of one sample file, newest first.
// A limit of zero or less returns all of them.
func (s *ReductionStore) ListByCase(ctx context.Context, caseKey string, limit int) ([]*Reduction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reductionColumns+`
		FROM reductions
		WHERE case_key = ?
		ORDER BY created_at DESC
		LIMIT ?`, caseKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query reductions: %w", err)
	}
	defer rows.Close()

	var out []*Reduction
	for rows.Next() {
		r, err := scanReduction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a reduction by ID.
func (s *ReductionStore) Delete(ctx context.Context, reductionID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM reductions WHERE reduction_id = ?`, reductionID)
		if err != nil {
			return fmt.Errorf("delete reduction: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, reductionID)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReduction(row rowScanner) (*Reduction, error) {
	var (
		r                     Reduction
		pssn, rms, pv, lo, hi sql.NullFloat64
		outputKey, errText    sql.NullString
		stagesStr, paramsStr  sql.NullString
	)
	err := row.Scan(
		&r.ReductionID, &r.CaseKey, &r.WavelengthMicrons, &r.NPx, &pssn,
		&rms, &pv, &lo, &hi, &r.ValidRays, &r.SampleCount,
		&outputKey, &r.Status, &errText, &r.DurationMS, &stagesStr,
		&paramsStr, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan reduction row: %w", err)
	}

	if pssn.Valid {
		v := pssn.Float64
		r.PSSn = &v
	}
	r.OPDRMS = floatOrNaN(rms)
	r.OPDPV = floatOrNaN(pv)
	r.OPDMin = floatOrNaN(lo)
	r.OPDMax = floatOrNaN(hi)
	r.OutputKey = outputKey.String
	r.Error = errText.String
	if stagesStr.Valid {
		if err := json.Unmarshal([]byte(stagesStr.String), &r.StageDurations); err != nil {
			return nil, fmt.Errorf("decode stage durations: %w", err)
		}
	}
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}

// sqlite stores NaN as NULL; make that explicit in both directions.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func nullFloatPtr(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return nullFloat(*v)
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
