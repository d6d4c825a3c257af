package job

import (
	"github.com/smallbiznis/corehours/internal/job/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("job.repository",
	fx.Provide(repository.Provide),
)
