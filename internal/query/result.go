package query

import (
	"fmt"
	"time"

	"github.com/roach88/timeline/internal/ir"
)

func (p *Plan) decode(rows []ir.IRObject) ([]ir.IRValue, error) {
	results := make([]ir.IRValue, 0, len(rows))
	for _, row := range rows {
		values := make([]ir.IRValue, len(p.slots))
		for i, s := range p.slots {
			v, err := s.decode(row)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		if len(values) == 1 {
			results = append(results, values[0])
		} else {
			results = append(results, ir.IRArray(values))
		}
	}
	return results, nil
}

func (s slot) decode(row ir.IRObject) (ir.IRValue, error) {
	switch s.kind {
	case slotEntity:
		cols := make(ir.IRObject, len(s.columns))
		for i, out := range s.outputs {
			cols[s.columns[i]] = row.Get(out)
		}
		id := cols.Get(s.entity.ID.Column)
		if ir.IsNull(id) {
			// Outer-joined branch without a row.
			return ir.IRNull{}, nil
		}
		obj := s.entity.Unflatten(cols)
		obj[s.entity.ID.Name] = id
		return obj, nil

	case slotComponent:
		obj := make(ir.IRObject, len(s.component.Properties))
		empty := true
		for i, p := range s.component.Properties {
			v := row.Get(s.outputs[i])
			if !ir.IsNull(v) {
				empty = false
			}
			obj[p.Name] = v
		}
		if empty {
			return ir.IRNull{}, nil
		}
		return obj, nil

	case slotValue:
		v := row.Get(s.outputs[0])
		if v == nil {
			return ir.IRNull{}, nil
		}
		return v, nil

	case slotRevision:
		id, ok := row.Get(s.outputs[0]).(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("decode revision: missing revision number")
		}
		ms, ok := row.Get(s.outputs[1]).(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("decode revision %d: missing timestamp", id)
		}
		return ir.IRObject{
			"id":        id,
			"timestamp": ir.IRString(time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano)),
		}, nil

	case slotRevisionType:
		n, ok := row.Get(s.outputs[0]).(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("decode revision type: unexpected %T", row.Get(s.outputs[0]))
		}
		return ir.IRString(ir.RevisionType(n).String()), nil

	default:
		return nil, fmt.Errorf("unknown result slot %d", s.kind)
	}
}
