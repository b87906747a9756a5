// Package registry records job runs in a local bbolt file.
//
// Runs are stored as JSON under their UUID in the "runs" bucket. The trainer
// also registers the fingerprint of every schema it writes in the "schemas"
// bucket so the predictor can tell whether a schema came from a known run.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

var (
	runsBucket    = []byte("runs")
	schemasBucket = []byte("schemas")
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("registry: run not found")

// Job kinds.
const (
	KindTrain     = "train"
	KindPredict   = "predict"
	KindSummarize = "summarize"
)

// RunRecord describes one job execution.
type RunRecord struct {
	ID          uuid.UUID          `json:"id"`
	Kind        string             `json:"kind"`
	Start       time.Time          `json:"start"`
	Finish      time.Time          `json:"finish"`
	Inputs      []string           `json:"inputs"`
	Artifacts   []string           `json:"artifacts"`
	Fingerprint string             `json:"schema_fingerprint,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// NewRun starts a record for a job of the given kind.
func NewRun(kind string) *RunRecord {
	return &RunRecord{ID: uuid.New(), Kind: kind, Start: time.Now().UTC()}
}

// SchemaRecord links a schema fingerprint to the run that wrote it.
type SchemaRecord struct {
	Fingerprint string    `json:"fingerprint"`
	RunID       uuid.UUID `json:"run_id"`
	Dir         string    `json:"dir"`
	Created     time.Time `json:"created"`
}

// DB is an open registry file.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the registry file at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open registry %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{runsBucket, schemasBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close releases the file lock.
func (r *DB) Close() error {
	if err := r.db.Close(); err != nil {
		return errors.Wrap(err, "close registry")
	}
	return nil
}

// Put stores or replaces run.
func (r *DB) Put(_ context.Context, run *RunRecord) error {
	if run.ID == uuid.Nil {
		return errors.NewValidationError("id", "run id must be set", run.ID)
	}
	bytes, err := json.Marshal(run)
	if err != nil {
		return errors.Wrap(err, "marshal run record")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(runsBucket).Put([]byte(run.ID.String()), bytes); err != nil {
			return errors.Wrap(err, "put to bucket error")
		}
		return nil
	})
}

// Get returns the run stored under id.
func (r *DB) Get(_ context.Context, id uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(runsBucket).Get([]byte(id.String()))
		if v == nil {
			return errors.Wrapf(ErrNotFound, "%s", id)
		}
		return json.Unmarshal(v, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns every run of kind (all kinds when empty), oldest first.
func (r *DB) List(_ context.Context, kind string) ([]RunRecord, error) {
	var runs []RunRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return errors.Wrapf(err, "decode run %s", k)
			}
			if kind == "" || run.Kind == kind {
				runs = append(runs, run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Start.Before(runs[j].Start) })
	return runs, nil
}

// RecordSchema registers a schema fingerprint written by run into dir.
func (r *DB) RecordSchema(_ context.Context, fingerprint string, runID uuid.UUID, dir string) error {
	bytes, err := json.Marshal(SchemaRecord{Fingerprint: fingerprint, RunID: runID, Dir: dir, Created: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "marshal schema record")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(schemasBucket).Put([]byte(fingerprint), bytes)
	})
}

// KnownSchema returns the record for fingerprint and whether it exists.
func (r *DB) KnownSchema(_ context.Context, fingerprint string) (*SchemaRecord, bool, error) {
	var (
		rec   SchemaRecord
		found bool
	)
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(schemasBucket).Get([]byte(fingerprint))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &rec, true, nil
}
