package ports

import "github.com/sensiasoft/sensorhub-sub000/internal/domain"

type Transformer interface {
	Transform(*domain.Record) (*domain.Record, error)
	Version() uint16
}
