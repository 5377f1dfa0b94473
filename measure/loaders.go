package measure

import (
	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/intercept"
	"github.com/sarchlab/speedmeasure/pipeline"
	"github.com/sarchlab/speedmeasure/tracing"
)

// wrapLoaders returns a registry in which every loader step is timed on its
// own. Loaders already timed are kept as they are.
func (sm *SpeedMeasure) wrapLoaders(
	registry map[string]*pipeline.Loader,
) map[string]*pipeline.Loader {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	out := make(map[string]*pipeline.Loader, len(registry))

	for key, l := range registry {
		if sm.wrappedLoaders[l] {
			out[key] = l
			continue
		}

		wrapped := &pipeline.Loader{
			Name:   l.Name,
			Normal: sm.timeLoaderFunc(l.Name, l.Normal),
			Pitch:  sm.timeLoaderFunc(l.Name, l.Pitch),
		}
		sm.wrappedLoaders[wrapped] = true
		out[key] = wrapped
	}

	return out
}

// timeLoaderFunc times one loader step. The step ends when its callback is
// called; until then it ends, speculatively, when it returns.
func (sm *SpeedMeasure) timeLoaderFunc(
	name string,
	fn pipeline.LoaderFunc,
) pipeline.LoaderFunc {
	if fn == nil {
		return nil
	}

	return func(ctx *pipeline.LoaderContext, source []byte) ([]byte, error) {
		inv := sm.interceptor.Begin(intercept.Key{
			Category: analysis.CategoryLoaders,
			Event:    analysis.EventBuildSpecific,
			Name:     ctx.Resource,
			Metadata: tracing.Metadata{tracing.MetaLoader: name},
		})

		next := ctx.Callback()
		completed := false
		ctx.SetCallback(func(err error, result []byte) {
			if !completed {
				completed = true
				inv.Complete()
			}

			next(err, result)
		})

		result, err := fn(ctx, source)
		inv.Returned(false)

		return result, err
	}
}
