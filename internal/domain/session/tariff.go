package session

import (
	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// Tariff prices each consultation type in minor currency units.
type Tariff map[diagnosis.ConsultationType]int64

var DefaultTariff = Tariff{
	diagnosis.TypeChat:      1500,
	diagnosis.TypeVideo:     3000,
	diagnosis.TypeEmergency: 5000,
}

func (t Tariff) Price(kind diagnosis.ConsultationType) (int64, error) {
	price, ok := t[kind]
	if !ok {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "unknown consultation type %q", kind)
	}
	return price, nil
}
