package stream

// KeySelector splits a record into its key and the value to reduce.
type KeySelector func(value interface{}) (key string, val interface{}, err error)

// ReduceFunction combines the previous value of a key with a new one.
type ReduceFunction func(previous, current interface{}) interface{}

// ReduceByKeyOperator keeps one reduced value per key and emits a copy of
// the whole key to value map after every update.
type ReduceByKeyOperator struct {
	BaseOperator
	keyFn    KeySelector
	reduceFn ReduceFunction
}

func NewReduceByKeyOperator(id string, keyFn KeySelector, reduceFn ReduceFunction) *ReduceByKeyOperator {
	return &ReduceByKeyOperator{
		BaseOperator: BaseOperator{id: id},
		keyFn:        keyFn,
		reduceFn:     reduceFn,
	}
}

func (o *ReduceByKeyOperator) ProcessLeftData(event *DataEvent) error {
	key, val, err := o.keyFn(event.Value)
	if err != nil {
		return err
	}

	var out map[string]interface{}
	o.updateState(func(s State) {
		if old, ok := s[key]; ok {
			s[key] = o.reduceFn(old, val)
		} else {
			s[key] = val
		}
		out = make(map[string]interface{}, len(s))
		for k, v := range s {
			out[k] = v
		}
	})
	return o.Output().EmitData(NewDataEvent(out, event.EventTime))
}

// CountByValue is a KeySelector/ReduceFunction pair that counts records by
// their string form.
func CountByValue(value interface{}) (string, interface{}, error) {
	return toKey(value), int64(1), nil
}

func SumInt64(previous, current interface{}) interface{} {
	return previous.(int64) + current.(int64)
}
