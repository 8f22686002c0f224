package pdf

import (
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/internal/storage"
)

// Module provides PDF processing jobs
var Module = fx.Module("pdf",
	fx.Provide(
		NewExecProcessor,
		func(p *ExecProcessor) Processor { return p },
		func(s *storage.Service) ObjectStore { return s },
		func(queues *jobs.Queues) Queue { return queues.Documents },
		NewService,
	),
	fx.Invoke(RegisterHandlers),
)

// RegisterHandlers binds the PDF handlers to the documents pool
func RegisterHandlers(pools *jobs.Pools, s *Service) error {
	if err := pools.Documents.Register(jobs.TypeGenerateThumbnail, s.HandleThumbnail); err != nil {
		return err
	}
	return pools.Documents.Register(jobs.TypeOptimizePDF, s.HandleOptimize)
}
