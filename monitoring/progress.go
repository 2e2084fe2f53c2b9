package monitoring

import (
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/tracing"
)

// A ProgressBar shows how much of something is used.
type ProgressBar struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Total      uint64 `json:"total"`
	Finished   uint64 `json:"finished"`
	InProgress uint64 `json:"in_progress"`
}

// interceptCoverage shows how many intercepts have been hit at least once.
func interceptCoverage(s *tracing.StatsCollector) ProgressBar {
	e := s.Engine()

	return ProgressBar{
		ID:       "intercepts",
		Name:     "Intercepts used",
		Total:    uint64(e.Intercepts),
		Finished: uint64(e.UsedIntercepts),
	}
}

// heapUsage shows the bytes of the scratch heap held by call stubs and by
// buffers that are still in use.
func heapUsage(h *scratch.Heap, stubBytes uint64) ProgressBar {
	used, total := h.Usage()

	bar := ProgressBar{
		ID:       "scratch",
		Name:     "Scratch heap",
		Total:    total,
		Finished: min(stubBytes, used),
	}
	bar.InProgress = used - bar.Finished

	return bar
}
