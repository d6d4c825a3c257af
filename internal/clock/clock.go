package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time for services that stamp records.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func System() Clock { return systemClock{} }

var Module = fx.Module("clock", fx.Provide(System))
