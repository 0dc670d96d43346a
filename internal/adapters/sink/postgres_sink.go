package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cridenour/go-postgis"
	"github.com/lib/pq"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// FeatureLookup resolves the feature of interest of a record.
type FeatureLookup interface {
	Foi(producerID, foiID string) (domain.Feature, error)
}

// PostgresSink mirrors records into a PostGIS table. A record's location is
// the centre of its feature of interest, when known.
type PostgresSink struct {
	db        *sql.DB
	tableName string
	features  FeatureLookup
	srid      int32
}

func NewPostgresSink(db *sql.DB, table string, features FeatureLookup) *PostgresSink {
	return &PostgresSink{db: db, tableName: table, features: features, srid: 4326}
}

func (t *PostgresSink) Name() string { return "postgres" }

// EnsureTable creates the observation table if it does not exist.
func (t *PostgresSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	producer_id TEXT NOT NULL,
	record_type TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	foi_id TEXT,
	values DOUBLE PRECISION[] NOT NULL,
	location GEOMETRY(Point, %d),
	PRIMARY KEY (producer_id, record_type, ts)
)`, pq.QuoteIdentifier(t.tableName), t.srid)
	_, err := t.db.ExecContext(ctx, ddl)
	return err
}

func (t *PostgresSink) WriteBatch(records []*domain.Record) error {
	records = lastPerKey(records)
	if len(records) == 0 {
		return nil
	}

	// a timestamp written twice overwrites, as in the store
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(t.tableName))
	b.WriteString(" (producer_id, record_type, ts, foi_id, values, location) VALUES ")

	args := make([]any, 0, len(records)*6)
	for i, r := range records {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		args = append(args,
			r.Key.ProducerID,
			r.Key.RecordType,
			domain.TimeOf(r.Key.Timestamp),
			nullable(r.Key.FoiID),
			pq.Float64Array(r.Value),
			t.location(r.Key),
		)
	}

	b.WriteString(" ON CONFLICT (producer_id, record_type, ts) DO UPDATE SET" +
		" foi_id = EXCLUDED.foi_id, values = EXCLUDED.values, location = EXCLUDED.location")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

func (t *PostgresSink) location(key domain.DataKey) any {
	if t.features == nil || key.FoiID == "" {
		return nil
	}
	f, err := t.features.Foi(key.ProducerID, key.FoiID)
	if err != nil || f.Geometry == nil {
		return nil
	}
	box := f.Geometry.Bounds()
	if box.IsEmpty() {
		return nil
	}
	return postgis.PointS{SRID: t.srid, X: (box.MinX + box.MaxX) / 2, Y: (box.MinY + box.MaxY) / 2}
}

// lastPerKey keeps the last record of each (producer, type, timestamp) key
// since one upsert statement cannot touch a row twice.
func lastPerKey(records []*domain.Record) []*domain.Record {
	type key struct {
		producer, recordType string
		ts                   float64
	}
	last := make(map[key]int, len(records))
	for i, r := range records {
		last[key{r.Key.ProducerID, r.Key.RecordType, r.Key.Timestamp}] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]*domain.Record, 0, len(last))
	for i, r := range records {
		if last[key{r.Key.ProducerID, r.Key.RecordType, r.Key.Timestamp}] == i {
			out = append(out, r)
		}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ ports.Sink = (*PostgresSink)(nil)
