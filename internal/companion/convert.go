package companion

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// StatsReport is one sink's counters as sent to the companion.
type StatsReport struct {
	Sink           string
	Kind           string
	Detected       int
	Blocked        int
	Errored        int
	WithoutContext int
	Total          int
	Timings        []time.Duration
}

func (r StatsReport) toStruct() (*structpb.Struct, error) {
	var sum time.Duration
	for _, d := range r.Timings {
		sum += d
	}
	return structpb.NewStruct(map[string]any{
		"sink":            r.Sink,
		"kind":            r.Kind,
		"detected":        r.Detected,
		"blocked":         r.Blocked,
		"errored":         r.Errored,
		"without_context": r.WithoutContext,
		"total":           r.Total,
		"timings":         len(r.Timings),
		"timings_nanos":   int64(sum),
	})
}

func statsFromStruct(s *structpb.Struct) (StatsRow, error) {
	f := s.GetFields()
	row := StatsRow{
		Sink:           f["sink"].GetStringValue(),
		Kind:           f["kind"].GetStringValue(),
		Detected:       int64(f["detected"].GetNumberValue()),
		Blocked:        int64(f["blocked"].GetNumberValue()),
		Errored:        int64(f["errored"].GetNumberValue()),
		WithoutContext: int64(f["without_context"].GetNumberValue()),
		Total:          int64(f["total"].GetNumberValue()),
		Timings:        int64(f["timings"].GetNumberValue()),
		TimingsNanos:   int64(f["timings_nanos"].GetNumberValue()),
	}
	if row.Sink == "" {
		return StatsRow{}, fmt.Errorf("stats report has no sink")
	}
	return row, nil
}

func packagesToStruct(pkgs map[string]string) (*structpb.Struct, error) {
	inner := make(map[string]any, len(pkgs))
	for name, version := range pkgs {
		inner[name] = version
	}
	return structpb.NewStruct(map[string]any{"packages": inner})
}

func packagesFromStruct(s *structpb.Struct) map[string]string {
	out := make(map[string]string)
	for name, v := range s.GetFields()["packages"].GetStructValue().GetFields() {
		out[name] = v.GetStringValue()
	}
	return out
}
