package storage

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// FeatureStore indexes the features of interest of one producer by id and
// keeps a running bounding box of their geometries.
type FeatureStore struct {
	eng    ports.Engine
	prefix []byte

	mu     sync.RWMutex
	extent domain.BBox
}

func newFeatureStore(eng ports.Engine, root []byte) (*FeatureStore, error) {
	fs := &FeatureStore{
		eng:    eng,
		prefix: section(root, secFeature),
		extent: domain.EmptyBBox(),
	}
	err := eng.View(func(tx ports.Tx) error {
		return tx.Scan(fs.prefix, func(_, v []byte) error {
			var f domain.Feature
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			fs.extent = fs.extent.Merge(f.Geometry.Bounds())
			return nil
		})
	})
	if err != nil {
		return nil, domain.StorageFailure("load features", err)
	}
	return fs, nil
}

func (fs *FeatureStore) key(id string) []byte {
	return join(fs.prefix, []byte(id))
}

// Store inserts f or replaces the feature with the same id. The spatial
// extent only grows: replacing a geometry does not shrink it.
func (fs *FeatureStore) Store(f domain.Feature) error {
	if err := validateName("feature", f.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return domain.StorageFailure("store feature", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	err = fs.eng.Update(func(tx ports.Tx) error {
		return tx.Set(fs.key(f.ID), raw)
	})
	if err != nil {
		return domain.StorageFailure("store feature", err)
	}
	fs.extent = fs.extent.Merge(f.Geometry.Bounds())
	return nil
}

// ByID returns the feature with the given id.
func (fs *FeatureStore) ByID(id string) (domain.Feature, error) {
	var f domain.Feature
	err := fs.eng.View(func(tx ports.Tx) error {
		v, err := tx.Get(fs.key(id))
		if errors.Is(err, ports.ErrKeyNotFound) {
			return domain.NotFound("feature", id)
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(v, &f)
	})
	return f, domain.StorageFailure("get feature", err)
}

// Iterate returns the features matching the filter, in id order when no id
// set is given and in id-set order otherwise. Unknown ids are skipped.
func (fs *FeatureStore) Iterate(filter domain.FoiFilter) ports.Iterator[domain.Feature] {
	if len(filter.IDs) > 0 {
		var found []domain.Feature
		for _, id := range dedupe(filter.IDs) {
			f, err := fs.ByID(id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return &errIterator[domain.Feature]{err: err}
			}
			if filter.Matches(f) {
				found = append(found, f)
			}
		}
		return NewSliceIterator(found)
	}
	return filterIter[domain.Feature](&featureIterator{fs: fs, from: fs.prefix}, filter.Matches)
}

// featureIterator walks the feature keys one read transaction per step.
type featureIterator struct {
	fs   *FeatureStore
	from []byte
	done bool
	cur  domain.Feature
	err  error
}

func (it *featureIterator) Next() bool {
	if it.done {
		return false
	}
	var (
		k, v []byte
		ok   bool
	)
	err := it.fs.eng.View(func(tx ports.Tx) error {
		var err error
		k, v, ok, err = tx.Seek(it.fs.prefix, it.from, false)
		return err
	})
	if err == nil && ok {
		var f domain.Feature
		err = json.Unmarshal(v, &f)
		it.cur = f
	}
	if err != nil {
		it.err = domain.StorageFailure("iterate features", err)
	}
	if err != nil || !ok {
		it.done = true
		return false
	}
	it.from = append(k, sep)
	return true
}

func (it *featureIterator) Value() domain.Feature { return it.cur }
func (it *featureIterator) Err() error            { return it.err }
func (it *featureIterator) Close() error {
	it.done = true
	return nil
}

// IDs returns every stored feature id in order.
func (fs *FeatureStore) IDs() ([]string, error) {
	var ids []string
	err := fs.eng.View(func(tx ports.Tx) error {
		return tx.Scan(fs.prefix, func(k, _ []byte) error {
			ids = append(ids, string(k[len(fs.prefix):]))
			return nil
		})
	})
	return ids, domain.StorageFailure("feature ids", err)
}

// Extent returns the bounding box of every stored geometry.
func (fs *FeatureStore) Extent() domain.BBox {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.extent
}
