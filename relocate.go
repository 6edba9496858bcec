package tabmap

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// relocated is a live record together with its coordinate payload, read
// back so that it can be written to another page or another chain.
type relocated struct {
	rec     ObjectHeader
	payload []byte
}

// gather reads the live records of o and their payloads. The page and its
// coordinate tail must be committed.
func (m *MapFile) gather(o *ObjectPage) ([]relocated, error) {
	recs, err := o.liveRecords(m.header)
	if err != nil {
		return nil, err
	}
	out := make([]relocated, len(recs))
	for i, rec := range recs {
		out[i].rec = rec
		if !m.header.UsesCoords(rec.Type) || rec.CoordSize == 0 {
			continue
		}
		if out[i].payload, err = readPayload(m.store, rec.CoordPtr, rec.CoordSize); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// releaseCoords hands the coordinate chain of o back to the allocator.
func (m *MapFile) releaseCoords(o *ObjectPage) error {
	first, _ := o.CoordChain()
	chain, err := coordChain(m.store, first)
	if err != nil {
		return err
	}
	for _, off := range chain {
		m.alloc.PushFree(off)
	}
	return nil
}

// rewrite appends recs to the empty page o with a new coordinate chain,
// points their ids at the new slots and commits the page.
func (m *MapFile) rewrite(o *ObjectPage, recs []relocated) error {
	var cs *CoordStream
	for i := range recs {
		r := &recs[i]
		if m.header.UsesCoords(r.rec.Type) {
			if cs == nil {
				var err error
				if cs, err = appendCoords(m.store, m.alloc, 0); err != nil {
					return err
				}
			}
			ptr, err := cs.Tell()
			if err != nil {
				return err
			}
			if err := cs.WriteBytes(r.payload); err != nil {
				return err
			}
			r.rec.CoordPtr, r.rec.CoordSize = ptr, int32(len(r.payload))
		}
		pos, err := o.Append(m.header, &r.rec)
		if err != nil {
			return err
		}
		if err := m.ids.Set(r.rec.RowID(), o.Offset()+int32(pos)); err != nil {
			return err
		}
	}
	if cs != nil {
		if err := cs.Commit(); err != nil {
			return err
		}
		o.setCoordChain(cs.First(), cs.Last())
	}
	return o.commit(m.store)
}

// forgetPositions drops state that points into pages about to be rewritten.
func (m *MapFile) forgetPositions() {
	m.coords = nil
	m.obj, m.objOff = ObjectHeader{}, 0
	m.seq = seqState{}
}

// compact rewrites the current page o with its live records only.
func (m *MapFile) compact(o *ObjectPage) error {
	if err := m.flushPage(); err != nil {
		return err
	}
	recs, err := m.gather(o)
	if err != nil {
		return err
	}
	dead := o.Dead()
	if err := m.releaseCoords(o); err != nil {
		return err
	}
	m.forgetPositions()
	o.reset()
	if err := m.rewrite(o, recs); err != nil {
		return err
	}
	m.log.WithFields(log.Fields{"page": o.Offset(), "live": len(recs), "dead": dead}).Debug("object page compacted")
	return nil
}

// splitPage divides the live records of the full current page and rec
// between the page and a new one, links the new page into the index and
// leaves the page that is to take rec current.
func (m *MapFile) splitPage(rec *ObjectHeader, n int) error {
	o := m.cur
	x := m.index
	h := m.header
	if err := m.flushPage(); err != nil {
		return err
	}
	recs, err := m.gather(o)
	if err != nil {
		return err
	}
	items := make([]splitItem, len(recs)+1)
	for i, r := range recs {
		size, _ := h.recordLen(r.rec.Type)
		items[i] = splitItem{mbr: r.rec.MBR, size: size}
	}
	newItem := len(recs)
	items[newItem] = splitItem{mbr: rec.MBR, size: n}
	ga, gb, err := quadraticSplit(items, o.Capacity())
	if err != nil {
		return err
	}
	if x.Depth() > 0 {
		hint := o.MBR()
		if hint.IsEmpty() {
			hint = rec.MBR
		}
		if err := x.locate(o.Offset(), hint); err != nil {
			return err
		}
	}

	group := func(g []int) ([]relocated, Rect, bool) {
		var out []relocated
		mbr := EmptyRect()
		hasNew := false
		for _, i := range g {
			mbr = mbr.Union(items[i].mbr)
			if i == newItem {
				hasNew = true
				continue
			}
			out = append(out, recs[i])
		}
		return out, mbr, hasNew
	}
	recsA, mbrA, newInA := group(ga)
	recsB, mbrB, _ := group(gb)

	if err := m.releaseCoords(o); err != nil {
		return err
	}
	m.forgetPositions()
	nb := newObjectPage(m.alloc.Allocate(), m.store.PageSize())
	if o.centerLocked {
		nb.lockCenter(o.Center())
	}
	o.reset()
	if err := m.rewrite(o, recsA); err != nil {
		return err
	}
	if err := m.rewrite(nb, recsB); err != nil {
		return err
	}

	if x.Depth() == 0 {
		err = x.newRoot(IndexEntry{MBR: mbrA, Child: o.Offset()}, IndexEntry{MBR: mbrB, Child: nb.Offset()})
	} else {
		x.updateLeafEntry(mbrA)
		err = x.insert(x.Depth()-1, IndexEntry{MBR: mbrB, Child: nb.Offset()})
	}
	if err != nil {
		return err
	}
	m.log.WithFields(log.Fields{
		"page": o.Offset(), "new": nb.Offset(), "left": len(recsA), "right": len(recsB),
	}).Debug("object page split")

	target := o
	if !newInA {
		target = nb
		if err := m.setPage(nb); err != nil {
			return err
		}
	}
	if target.Free() < n {
		return errors.Wrapf(ErrCapacity, "%d byte record after splitting page %d", n, o.Offset())
	}
	return nil
}
