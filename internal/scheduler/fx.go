package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("autopay.sweep",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go worker.RunForever(context.Background())
			return nil
		},
	})
}
