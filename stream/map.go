package stream

// MapFunction maps a record value to another value.
type MapFunction func(value interface{}) (interface{}, error)

// MapOperator is an operator that applies a function to each event in the stream.
type MapOperator struct {
	BaseOperator
	mapFn MapFunction
}

// NewMapOperator creates a new MapOperator.
func NewMapOperator(id string, mapFn MapFunction) *MapOperator {
	return &MapOperator{
		BaseOperator: BaseOperator{id: id},
		mapFn:        mapFn,
	}
}

func (o *MapOperator) ProcessLeftData(event *DataEvent) error {
	out, err := o.mapFn(event.Value)
	if err != nil {
		return err
	}
	return o.Output().EmitData(NewDataEvent(out, event.EventTime))
}

// FlatMapFunction maps a record value to zero or more values.
type FlatMapFunction func(value interface{}) ([]interface{}, error)

// FlatMapOperator emits every value returned by its function with the
// timestamp of the input record.
type FlatMapOperator struct {
	BaseOperator
	flatMapFn FlatMapFunction
}

func NewFlatMapOperator(id string, fn FlatMapFunction) *FlatMapOperator {
	return &FlatMapOperator{
		BaseOperator: BaseOperator{id: id},
		flatMapFn:    fn,
	}
}

func (o *FlatMapOperator) ProcessLeftData(event *DataEvent) error {
	outs, err := o.flatMapFn(event.Value)
	if err != nil {
		return err
	}
	for _, out := range outs {
		if err := o.Output().EmitData(NewDataEvent(out, event.EventTime)); err != nil {
			return err
		}
	}
	return nil
}

// FilterFunction reports whether a record should be kept.
type FilterFunction func(value interface{}) bool

// FilterOperator drops records for which the predicate is false.
type FilterOperator struct {
	BaseOperator
	filterFn FilterFunction
}

func NewFilterOperator(id string, fn FilterFunction) *FilterOperator {
	return &FilterOperator{
		BaseOperator: BaseOperator{id: id},
		filterFn:     fn,
	}
}

func (o *FilterOperator) ProcessLeftData(event *DataEvent) error {
	if !o.filterFn(event.Value) {
		return nil
	}
	return o.Output().EmitData(event)
}
