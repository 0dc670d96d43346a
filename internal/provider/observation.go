package provider

import (
	"github.com/google/uuid"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// buildObservation wraps one record as an observation. The phenomenon time
// comes from the sampling time field when present, otherwise from now.
func buildObservation(rec *domain.Record, schema domain.DataComponent, now float64) *domain.Observation {
	phenomenon, ok := schema.SamplingTime(rec.Value)
	if !ok {
		phenomenon = now
	}
	return &domain.Observation{
		ID:                 uuid.NewString(),
		ProcedureID:        rec.Key.ProducerID,
		ObservedProperties: schema.Definitions(),
		FoiID:              rec.Key.FoiID,
		PhenomenonTime:     phenomenon,
		ResultTime:         rec.Key.Timestamp,
		ResultSchema:       schema,
		Result:             rec.Value,
	}
}

// combinedStructure describes the result of a provider serving several
// record types: a single type keeps its own schema, several are grouped
// under one record component.
func combinedStructure(name string, schemas []domain.DataComponent) domain.DataComponent {
	if len(schemas) == 1 {
		return schemas[0]
	}
	return domain.DataComponent{Name: name, Type: domain.TypeRecord, Fields: schemas}
}
