package resolver

import (
	"github.com/smallbiznis/fxquote/internal/resolver/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resolver.service",
	fx.Provide(service.New),
)
