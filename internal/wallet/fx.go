package wallet

import (
	"github.com/smallbiznis/corehours/internal/wallet/repository"
	"github.com/smallbiznis/corehours/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
