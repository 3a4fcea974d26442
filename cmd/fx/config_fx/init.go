package config_fx

import (
	"go.uber.org/fx"

	"subyield/internal/config"
)

var Module = fx.Provide(config.Load)
