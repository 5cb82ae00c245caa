package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tarungka/wiregroup/internal/config"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/sinks"
	"github.com/tarungka/wiregroup/sources"
	"github.com/tarungka/wiregroup/stream"
	"golang.org/x/time/rate"
)

// OperatorBuilder creates a named operator of a declared query.
type OperatorBuilder func(id string) stream.Operator

var operatorBuilders = map[string]OperatorBuilder{
	"uppercase": func(id string) stream.Operator {
		return stream.NewUppercaseOperator(id)
	},
	"count": func(id string) stream.Operator {
		return stream.NewReduceByKeyOperator(id, stream.CountByValue, stream.SumInt64)
	},
	"non_empty": func(id string) stream.Operator {
		return stream.NewFilterOperator(id, func(v interface{}) bool {
			switch t := v.(type) {
			case nil:
				return false
			case string:
				return strings.TrimSpace(t) != ""
			case []byte:
				return len(t) > 0
			}
			return true
		})
	},
	"split_words": func(id string) stream.Operator {
		return stream.NewFlatMapOperator(id, func(v interface{}) ([]interface{}, error) {
			var s string
			switch t := v.(type) {
			case string:
				s = t
			case []byte:
				s = string(t)
			default:
				return nil, fmt.Errorf("split_words: unsupported value %T", v)
			}
			var out []interface{}
			for _, w := range strings.Fields(s) {
				out = append(out, w)
			}
			return out, nil
		})
	},
}

func latePolicy(name string) (execution.LatePolicy, error) {
	switch name {
	case "", "log":
		return execution.LateLog, nil
	case "process":
		return execution.LateProcess, nil
	case "drop":
		return execution.LateDrop, nil
	default:
		return 0, fmt.Errorf("unknown late policy %q", name)
	}
}

// BuildDAG turns a declared query into a source, one operator chain
// fusing its operators and a sink.
func BuildDAG(q config.QueryConfig) (*execution.DAG, error) {
	queryID := q.QueryID
	if queryID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		queryID = id.String()
	}

	gen, err := sources.New(q.Source)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", queryID, err)
	}
	out, err := sinks.New(q.Sink)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", queryID, err)
	}

	var srcOpts []execution.SourceOption
	if q.Watermark.Period > 0 {
		srcOpts = append(srcOpts, execution.WithWatermarks(stream.NewPeriodicWatermark(q.Watermark.Period, q.Watermark.ExpectedDelay)))
	}
	if q.RateLimit > 0 {
		burst := int(q.RateLimit)
		if burst < 1 {
			burst = 1
		}
		srcOpts = append(srcOpts, execution.WithRateLimit(rate.Limit(q.RateLimit), burst))
	}

	var ops []stream.Operator
	for i, name := range q.Operators {
		build, ok := operatorBuilders[name]
		if !ok {
			return nil, fmt.Errorf("query %s: unknown operator %q", queryID, name)
		}
		ops = append(ops, build(fmt.Sprintf("%s-%s-%d", queryID, name, i)))
	}
	policy, err := latePolicy(q.LatePolicy)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", queryID, err)
	}

	src := execution.NewSource(queryID+"-source", gen, srcOpts...)
	chain := execution.NewOperatorChain(queryID+"-chain", ops...)
	chain.SetLatePolicy(policy)
	sink := execution.NewSink(queryID+"-sink", out)

	d := execution.NewDAG(queryID)
	for _, v := range []execution.Vertex{src, chain, sink} {
		if err := d.AddVertex(v); err != nil {
			return nil, err
		}
	}
	if err := d.AddEdge(src, chain, stream.Left); err != nil {
		return nil, err
	}
	if err := d.AddEdge(chain, sink, stream.Left); err != nil {
		return nil, err
	}
	return d, d.Validate()
}
