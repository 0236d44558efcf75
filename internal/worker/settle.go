package worker

import (
	"github.com/dunamismax/rendition/internal/pipeline"
	"github.com/dunamismax/rendition/internal/queue"
)

// settle folds one attempt's result into the run's settled sources. Retryable
// failures stay pending unless final is set, in which case they settle as
// failures too. prior is not modified.
func settle(prior []queue.SettledSource, result pipeline.EventResult, final bool) []queue.SettledSource {
	out := make([]queue.SettledSource, len(prior))
	index := make(map[string]int, len(prior)+len(result.Results))
	for i, s := range prior {
		s.Succeeded = append([]string(nil), s.Succeeded...)
		s.Failures = append(s.Failures[:0:0], s.Failures...)
		out[i] = s
		index[s.Location+"\x00"+s.Key] = i
	}

	for _, r := range result.Results {
		id := r.Source.Location + "\x00" + r.Source.Key
		i, ok := index[id]
		if !ok {
			out = append(out, queue.SettledSource{Location: r.Source.Location, Key: r.Source.Key})
			i = len(out) - 1
			index[id] = i
		}
		entry := &out[i]

		for _, o := range r.Succeeded() {
			entry.Succeeded = append(entry.Succeeded, o.Label)
		}
		for _, f := range (pipeline.EventResult{Results: []pipeline.Result{r}}).Failures() {
			if final || !f.Kind.Retryable() {
				entry.Failures = append(entry.Failures, f)
			}
		}
	}
	return out
}
