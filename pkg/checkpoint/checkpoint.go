// Package checkpoint persists investigation state at phase and type
// boundaries so a crashed or cancelled run resumes without re-buying
// data, and a completed run can be branched for re-investigation.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/knowledge"
	"github.com/cleargate/vantage/pkg/reqctx"
	"github.com/cleargate/vantage/pkg/sar"

	_ "modernc.org/sqlite"
)

// document is the serialized investigation state inside one checkpoint
// row. The request context is not stored; the caller reconstructs it
// from the original submission before restoring.
type document struct {
	InvestigationID string                          `json:"investigation_id"`
	EntityID        string                          `json:"entity_id"`
	Subject         contracts.Subject               `json:"subject"`
	States          map[sar.InfoType]*sar.TypeState `json:"states"`
	Knowledge       json.RawMessage                 `json:"knowledge"`
	CompletedPhases []string                        `json:"completed_phases,omitempty"`
	Deception       *sar.DeceptionReport            `json:"deception,omitempty"`
}

// Snapshot is one restored checkpoint.
type Snapshot struct {
	Seq           int
	Point         string
	Status        string
	CreatedAt     time.Time
	Investigation *sar.Investigation
}

// Store is the sqlite-backed checkpoint store. It implements
// sar.Checkpointer.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// NewStore opens the store over an existing database handle and ensures
// the schema.
func NewStore(db *sql.DB, log *zap.Logger) (*Store, error) {
	s := &Store{db: db, log: log.Named("checkpoint")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		investigation_id TEXT NOT NULL,
		seq              INTEGER NOT NULL,
		tenant_id        TEXT NOT NULL,
		point            TEXT NOT NULL,
		status           TEXT NOT NULL,
		doc              JSON NOT NULL,
		created_at       DATETIME NOT NULL,
		PRIMARY KEY (investigation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS checkpoints_tenant ON checkpoints (tenant_id, investigation_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save appends a checkpoint for the investigation. Sequence numbers are
// dense per investigation; the newest row is the resume point.
func (s *Store) Save(ctx context.Context, inv *sar.Investigation, point, status string) error {
	kbData, err := inv.KB.Snapshot()
	if err != nil {
		return faults.Wrap(faults.KindDataIntegrity, "checkpoint.save", "knowledge snapshot failed", err)
	}
	doc, err := json.Marshal(document{
		InvestigationID: inv.ID,
		EntityID:        inv.EntityID,
		Subject:         inv.Subject,
		States:          inv.States,
		Knowledge:       kbData,
		CompletedPhases: inv.CompletedPhases,
		Deception:       inv.Deception,
	})
	if err != nil {
		return faults.Wrap(faults.KindDataIntegrity, "checkpoint.save", "state not serializable", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (investigation_id, seq, tenant_id, point, status, doc, created_at)
		VALUES (?, COALESCE((SELECT MAX(seq) FROM checkpoints WHERE investigation_id = ?), 0) + 1, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ID, inv.RC.TenantID, point, status, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("checkpoint insert: %w", err)
	}
	s.log.Debug("checkpoint saved",
		zap.String("investigation", inv.ID),
		zap.String("point", point),
		zap.String("status", status))
	return nil
}

// Latest restores the newest checkpoint for the investigation. The
// caller supplies the reconstructed request context.
func (s *Store) Latest(ctx context.Context, rc *reqctx.Context, investigationID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, point, status, doc, created_at
		FROM checkpoints
		WHERE investigation_id = ? AND tenant_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		investigationID, rc.TenantID)

	var (
		snap    Snapshot
		rawDoc  string
		rawTime string
	)
	err := row.Scan(&snap.Seq, &snap.Point, &snap.Status, &rawDoc, &rawTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.KindNotFound, "checkpoint.latest", "no checkpoint for investigation")
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint query: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, rawTime); perr == nil {
		snap.CreatedAt = t
	}

	inv, err := s.rebuild(rc, []byte(rawDoc))
	if err != nil {
		return nil, err
	}
	snap.Investigation = inv
	return &snap, nil
}

// Branch clones the newest checkpoint of a finished investigation under
// a new investigation id, so a re-investigation starts from the
// accumulated knowledge instead of from scratch.
func (s *Store) Branch(ctx context.Context, rc *reqctx.Context, sourceID, newID string) (*sar.Investigation, error) {
	snap, err := s.Latest(ctx, rc, sourceID)
	if err != nil {
		return nil, err
	}
	inv := snap.Investigation
	inv.ID = newID
	// Phase progress resets so every phase re-runs over the carried
	// knowledge; terminal type states stay and are skipped or rebuilt by
	// the caller as the trigger requires.
	inv.CompletedPhases = nil
	inv.Deception = nil

	if err := s.Save(ctx, inv, "branch:"+sourceID, "RUNNING"); err != nil {
		return nil, err
	}
	return inv, nil
}

// History lists the checkpoint trail for an investigation, oldest first.
func (s *Store) History(ctx context.Context, rc *reqctx.Context, investigationID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, point, status, created_at
		FROM checkpoints
		WHERE investigation_id = ? AND tenant_id = ?
		ORDER BY seq ASC`,
		investigationID, rc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			rawTime string
		)
		if err := rows.Scan(&snap.Seq, &snap.Point, &snap.Status, &rawTime); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, rawTime); perr == nil {
			snap.CreatedAt = t
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// rebuild deserializes a document into a live investigation.
func (s *Store) rebuild(rc *reqctx.Context, raw []byte) (*sar.Investigation, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, faults.Wrap(faults.KindDataIntegrity, "checkpoint.restore", "corrupt checkpoint document", err)
	}
	kb := knowledge.New(doc.Subject.FullName)
	if len(doc.Knowledge) > 0 {
		if err := kb.Restore(doc.Knowledge); err != nil {
			return nil, faults.Wrap(faults.KindDataIntegrity, "checkpoint.restore", "corrupt knowledge snapshot", err)
		}
	}
	states := doc.States
	if states == nil {
		states = make(map[sar.InfoType]*sar.TypeState)
	}
	for _, st := range states {
		if st.Executed == nil {
			st.Executed = make(map[string]bool)
		}
	}
	return &sar.Investigation{
		ID:              doc.InvestigationID,
		RC:              rc,
		Subject:         doc.Subject,
		EntityID:        doc.EntityID,
		KB:              kb,
		States:          states,
		CompletedPhases: doc.CompletedPhases,
		Deception:       doc.Deception,
	}, nil
}
