package storage

import (
	"encoding/json"
	"math"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// DescriptionHistory keeps the versions of a producer description, keyed
// by the time from which each version is valid.
type DescriptionHistory struct {
	eng    ports.Engine
	prefix []byte
}

func newDescriptionHistory(eng ports.Engine, root []byte) *DescriptionHistory {
	return &DescriptionHistory{eng: eng, prefix: section(root, secDescription)}
}

// Store adds a version, replacing one with the same ValidFrom.
func (h *DescriptionHistory) Store(d domain.ProcedureDescription) error {
	if err := validTimestamp(d.ValidFrom); err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return domain.StorageFailure("store description", err)
	}
	err = h.eng.Update(func(tx ports.Tx) error {
		return tx.Set(join(h.prefix, encodeTime(d.ValidFrom)), raw)
	})
	return domain.StorageFailure("store description", err)
}

// At returns the version valid at time t.
func (h *DescriptionHistory) At(t float64) (domain.ProcedureDescription, error) {
	var d domain.ProcedureDescription
	err := h.eng.View(func(tx ports.Tx) error {
		_, v, ok, err := tx.Seek(h.prefix, join(h.prefix, encodeTime(t)), true)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFound("description at", domain.TimeOf(t).Format("2006-01-02T15:04:05Z07:00"))
		}
		return json.Unmarshal(v, &d)
	})
	return d, domain.StorageFailure("description", err)
}

// Latest returns the most recent version.
func (h *DescriptionHistory) Latest() (domain.ProcedureDescription, error) {
	return h.At(math.MaxFloat64)
}

// All returns every version by ascending ValidFrom.
func (h *DescriptionHistory) All() ([]domain.ProcedureDescription, error) {
	var out []domain.ProcedureDescription
	err := h.eng.View(func(tx ports.Tx) error {
		return tx.Scan(h.prefix, func(_, v []byte) error {
			var d domain.ProcedureDescription
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	return out, domain.StorageFailure("descriptions", err)
}

// Remove deletes the versions whose ValidFrom lies in [t0, t1].
func (h *DescriptionHistory) Remove(t0, t1 float64) (int, error) {
	var n int
	err := h.eng.Update(func(tx ports.Tx) error {
		var keys [][]byte
		err := tx.Scan(h.prefix, func(k, _ []byte) error {
			ts, _, err := timeSuffix(k)
			if err != nil {
				return err
			}
			if ts >= t0 && ts <= t1 {
				keys = append(keys, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	if err != nil {
		return 0, domain.StorageFailure("remove descriptions", err)
	}
	return n, nil
}
