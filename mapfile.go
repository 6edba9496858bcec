package tabmap

import (
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrBadMagic        = errors.New("tabmap: bad header magic")
	ErrPageType        = errors.New("tabmap: unexpected page type")
	ErrPageBounds      = errors.New("tabmap: access outside page")
	ErrIDMismatch      = errors.New("tabmap: object id mismatch")
	ErrCorrupt         = errors.New("tabmap: corrupt file structure")
	ErrCapacity        = errors.New("tabmap: no room in page")
	ErrReadOnly        = errors.New("tabmap: file is read only")
	ErrClosed          = errors.New("tabmap: file is closed")
	ErrNoPendingInsert = errors.New("tabmap: no pending insert")
	ErrPendingInsert   = errors.New("tabmap: insert in progress")
	ErrGarbageChain    = errors.New("tabmap: broken garbage page chain")
	ErrCompressedRange = errors.New("tabmap: object too large for compressed coordinates")
	ErrToolIndex       = errors.New("tabmap: bad tool reference")
	ErrObjectType      = errors.New("tabmap: unknown object type")
	ErrBounds          = errors.New("tabmap: invalid bounds")
)

// Mode is the access mode a map file is opened with.
type Mode uint8

const (
	ModeRead Mode = iota
	// ModeCreate truncates the file and starts a new one.
	ModeCreate
	// ModeUpdate appends to an existing file.
	ModeUpdate
)

// IndexMode is the way inserts build the spatial index.
type IndexMode uint8

const (
	// IndexBalanced places every insert in the best leaf and splits full
	// object pages.
	IndexBalanced IndexMode = iota
	// IndexDirect fills one object page after the other and indexes each
	// page once it is full.
	IndexDirect
)

func (m IndexMode) String() string {
	if m == IndexDirect {
		return "direct"
	}
	return "balanced"
}

// Options represents the options that can be set when opening a map file.
type Options struct {
	// Version of a new file. Versions below 500 use a 512 byte header page.
	Version int16

	// IndexMode is fixed for the life of an open file. Files opened with
	// ModeUpdate always use IndexBalanced.
	IndexMode IndexMode

	// Bounds are the real-world bounds quantized onto the integer range of a
	// new file. A zero value keeps the default of +-1000 on both axes.
	Bounds orb.Bound

	// Quadrant of a new file; 0 means QuadrantNE.
	Quadrant Quadrant

	Projection Projection

	// DedupTools reuses an equal tool definition instead of appending a copy.
	DedupTools bool

	// IDIndex resolves row ids. When nil an in-memory index is used, built
	// from the object pages for existing files.
	IDIndex IDIndex

	Logger log.FieldLogger
}

var DefaultOptions = &Options{
	Version:    VersionLargeHeader,
	IndexMode:  IndexBalanced,
	DedupTools: true,
}

type pendingInsert struct {
	rec  ObjectHeader
	page int32
	pos  int
}

type seqState struct {
	cursor *pageCursor
	page   int32
	pos    int
	lastID int32
	// unsealed is set once the open page of a direct mode file was visited.
	unsealed bool
}

// MapFile is one open map file: the object pages with their coordinates,
// the tool catalog and the spatial index over the object pages.
//
// A MapFile is not safe for concurrent use.
type MapFile struct {
	path string
	mode Mode
	opts Options
	log  log.FieldLogger

	store  *PageStore
	alloc  *PageAllocator
	header *Header
	index  *SpatialIndex
	tools  *ToolCatalog
	ids    IDIndex

	// noGeometry is set when a file opened for reading does not exist.
	noGeometry bool
	closed     bool

	// cur is the one object page kept in memory; coords appends to its
	// coordinate chain.
	cur    *ObjectPage
	coords *CoordStream
	// unsealed is the direct mode page that is not in the index yet.
	unsealed int32
	pending  *pendingInsert

	obj    ObjectHeader
	objOff int32
	seq    seqState

	filter   Rect
	filtered bool
}

// Open opens the map file at path.
func Open(path string, mode Mode, options *Options) (*MapFile, error) {
	if options == nil {
		options = DefaultOptions
	}
	m := &MapFile{path: path, mode: mode, opts: *options, filter: EmptyRect()}
	m.log = options.Logger
	if m.log == nil {
		m.log = log.StandardLogger()
	}
	m.log = m.log.WithField("file", path)
	if mode == ModeUpdate {
		m.opts.IndexMode = IndexBalanced
	}

	var err error
	switch mode {
	case ModeRead:
		m.store, err = openStore(path, os.O_RDONLY, 0, DefaultPageSize)
		if os.IsNotExist(err) {
			m.noGeometry = true
			m.header = newHeader(VersionLargeHeader)
			m.tools = newToolCatalog(false)
			m.log.Debug("no map file, every object has no geometry")
			return m, nil
		}
	case ModeCreate:
		m.store, err = openStore(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644, DefaultPageSize)
	case ModeUpdate:
		m.store, err = openStore(path, os.O_RDWR, 0644, DefaultPageSize)
	default:
		return nil, errors.Errorf("unknown open mode %d", mode)
	}
	if err != nil {
		return nil, err
	}
	if mode == ModeCreate {
		err = m.init()
	} else {
		err = m.load()
	}
	if err != nil {
		_ = m.store.Close()
		return nil, err
	}
	return m, nil
}

// init sets up the header of a new file.
func (m *MapFile) init() error {
	version := m.opts.Version
	if version == 0 {
		version = VersionLargeHeader
	}
	h := newHeader(version)
	q := m.opts.Quadrant
	if q == 0 {
		q = QuadrantNE
	}
	if err := h.SetQuadrant(q); err != nil {
		return err
	}
	if m.opts.Bounds != (orb.Bound{}) {
		if err := h.SetBounds(m.opts.Bounds); err != nil {
			return err
		}
	}
	h.Projection = m.opts.Projection
	m.header = h
	m.store.headerSize = headerSize(version)
	m.alloc = newPageAllocator(DefaultPageSize, int32(m.store.headerSize))
	m.index = newSpatialIndex(m.store, m.alloc, m.log)
	m.tools = newToolCatalog(m.opts.DedupTools)
	m.ids = m.opts.IDIndex
	if m.ids == nil {
		m.ids = NewMemIDIndex()
	}
	return nil
}

// load reads the header, free list, tools and index root of an existing file.
func (m *MapFile) load() error {
	p, err := m.store.loadHeaderPage(DefaultPageSize)
	if err != nil {
		return err
	}
	h, err := decodeHeader(p)
	if err != nil {
		return err
	}
	m.header = h
	m.store.headerSize = headerSize(h.Version)

	next := int32(m.store.headerSize)
	if size := m.store.FileSize(); size > int64(next) {
		next = int32((size + DefaultPageSize - 1) / DefaultPageSize * DefaultPageSize)
	}
	m.alloc = newPageAllocator(DefaultPageSize, next)
	if m.mode == ModeUpdate {
		if err := m.alloc.loadFreeList(m.store, h.GarbageHead); err != nil {
			return err
		}
	}
	m.index = newSpatialIndex(m.store, m.alloc, m.log)
	if err := m.index.open(h.IndexRoot, h.MBR); err != nil {
		return err
	}
	m.tools = newToolCatalog(m.opts.DedupTools)
	if err := m.tools.load(m.store, h.ToolHead); err != nil {
		return err
	}
	m.tools.count(h)
	m.ids = m.opts.IDIndex
	if m.ids == nil {
		mem := NewMemIDIndex()
		if err := m.rebuildIDIndex(mem); err != nil {
			return err
		}
		m.ids = mem
	}
	m.log.WithFields(log.Fields{
		"version": h.Version,
		"depth":   m.index.Depth(),
		"free":    len(m.alloc.free),
	}).Debug("map file opened")
	return nil
}

// rebuildIDIndex records the offset of every live object.
func (m *MapFile) rebuildIDIndex(ids IDIndex) error {
	return m.eachPage(newPageCursor(m.index, EmptyRect(), false), func(o *ObjectPage) error {
		o.Rewind()
		for {
			rec, pos, err := o.Next(m.header)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if rec.Deleted() {
				continue
			}
			if err := ids.Set(rec.RowID(), o.Offset()+int32(pos)); err != nil {
				return err
			}
		}
	})
}

// eachPage loads every object page the cursor yields, bypassing the current
// page slot.
func (m *MapFile) eachPage(c *pageCursor, fn func(o *ObjectPage) error) error {
	for {
		off, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		o, err := loadObjectPage(m.store, off, m.header)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
	}
}

func (m *MapFile) Header() *Header     { return m.header }
func (m *MapFile) Tools() *ToolCatalog { return m.tools }
func (m *MapFile) IDs() IDIndex        { return m.ids }
func (m *MapFile) Mode() Mode          { return m.mode }

// NoGeometry reports a file opened for reading that does not exist.
func (m *MapFile) NoGeometry() bool { return m.noGeometry }

func (m *MapFile) writable() error {
	switch {
	case m.closed:
		return ErrClosed
	case m.mode == ModeRead:
		return ErrReadOnly
	case m.pending != nil:
		return ErrPendingInsert
	}
	return nil
}

// releasePage commits the current object page and its coordinate tail and
// empties the slot.
func (m *MapFile) releasePage() error {
	if m.cur == nil {
		return nil
	}
	if err := m.flushPage(); err != nil {
		return err
	}
	m.cur, m.coords = nil, nil
	return nil
}

// flushPage commits the current object page without leaving the slot.
func (m *MapFile) flushPage() error {
	if m.cur == nil || m.mode == ModeRead {
		return nil
	}
	if m.coords != nil {
		if err := m.coords.Commit(); err != nil {
			return err
		}
		m.cur.setCoordChain(m.coords.First(), m.coords.Last())
	}
	return m.cur.commit(m.store)
}

// usePage makes the object page at off current.
func (m *MapFile) usePage(off int32) (*ObjectPage, error) {
	if m.cur != nil && m.cur.Offset() == off {
		return m.cur, nil
	}
	if err := m.releasePage(); err != nil {
		return nil, err
	}
	o, err := loadObjectPage(m.store, off, m.header)
	if err != nil {
		return nil, err
	}
	m.cur = o
	return o, nil
}

func (m *MapFile) setPage(o *ObjectPage) error {
	if err := m.releasePage(); err != nil {
		return err
	}
	m.cur = o
	return nil
}

// coordWriter returns the stream appending to the current page's chain.
func (m *MapFile) coordWriter() (*CoordStream, error) {
	if m.coords != nil {
		return m.coords, nil
	}
	_, last := m.cur.CoordChain()
	cs, err := appendCoords(m.store, m.alloc, last)
	if err != nil {
		return nil, err
	}
	m.coords = cs
	return cs, nil
}

// liveCount reports the live records of an object page for index tie breaks.
func (m *MapFile) liveCount(off int32) (int, error) {
	if m.cur != nil && m.cur.Offset() == off {
		return m.cur.Live(), nil
	}
	o, err := loadObjectPage(m.store, off, m.header)
	if err != nil {
		return 0, err
	}
	return o.Live(), nil
}

// PrepareInsert picks the object page for rec, reserves its slot and records
// the slot in the id index. Types with a coordinate payload get CoordPtr set;
// the payload is then written through Coords before CommitInsert.
func (m *MapFile) PrepareInsert(rec *ObjectHeader) error {
	if err := m.writable(); err != nil {
		return err
	}
	h := m.header
	n, coord := h.recordLen(rec.Type)
	if _, _, ok := lookupType(rec.Type); !ok || n == 0 {
		return errors.Wrapf(ErrObjectType, "type 0x%02x", uint8(rec.Type))
	}
	compressed := rec.Type.Compressed()
	if len(rec.Body) > n-recordFixedLen(coord, compressed) {
		return errors.Wrapf(ErrCapacity, "%s body of %d bytes", rec.Type, len(rec.Body))
	}
	if rec.ID <= 0 || isTombstone(rec.ID) {
		return errors.Wrapf(ErrIDMismatch, "row id %d", rec.ID)
	}
	if rec.MBR.IsEmpty() {
		return errors.Wrapf(ErrBounds, "object %d has an empty MBR", rec.ID)
	}
	if compressed {
		cx, cy := rec.MBR.Center()
		if !fitsCenter(rec.MBR, cx, cy) {
			return errors.Wrapf(ErrCompressedRange, "object %d", rec.ID)
		}
	}

	var err error
	if m.opts.IndexMode == IndexDirect {
		err = m.placeDirect(rec, n)
	} else {
		err = m.placeBalanced(rec, n)
	}
	if err != nil {
		return err
	}
	o := m.cur
	if compressed {
		o.lockCenter(rec.MBR.Center())
	}
	pos, err := o.reserve(n)
	if err != nil {
		return err
	}
	if err := m.ids.Set(rec.ID, o.Offset()+int32(pos)); err != nil {
		o.unreserve(pos)
		return err
	}
	rec.CenterX, rec.CenterY = o.Center()
	rec.CoordPtr, rec.CoordSize = 0, 0
	m.pending = &pendingInsert{rec: *rec, page: o.Offset(), pos: pos}
	if coord {
		ptr, err := m.startCoords()
		if err != nil {
			if rerr := m.rollbackInsert(); rerr != nil {
				m.log.WithError(rerr).Warn("rollback of failed insert")
			}
			return err
		}
		rec.CoordPtr, m.pending.rec.CoordPtr = ptr, ptr
	}
	return nil
}

// startCoords marks the start of a payload on the current page's chain.
func (m *MapFile) startCoords() (int32, error) {
	cs, err := m.coordWriter()
	if err != nil {
		return 0, err
	}
	cs.Mark()
	ptr, err := cs.Tell()
	if err != nil {
		return 0, err
	}
	m.cur.setCoordChain(cs.First(), cs.Last())
	return ptr, nil
}

// placeDirect makes the open page of a direct mode file current, sealing it
// into the index when rec cannot go there.
func (m *MapFile) placeDirect(rec *ObjectHeader, n int) error {
	if m.unsealed != 0 {
		o, err := m.usePage(m.unsealed)
		if err != nil {
			return err
		}
		if !o.accepts(rec.Type, rec.MBR) {
			if err := m.seal(); err != nil {
				return err
			}
		} else if o.Free() < n {
			if o.Dead() > 0 {
				if err := m.compact(o); err != nil {
					return err
				}
			}
			if o.Free() < n {
				if err := m.seal(); err != nil {
					return err
				}
			}
		}
	}
	if m.unsealed == 0 {
		o := newObjectPage(m.alloc.Allocate(), m.store.PageSize())
		if err := m.setPage(o); err != nil {
			return err
		}
		m.unsealed = o.Offset()
	}
	return nil
}

// seal commits the open direct mode page and links it into the index.
func (m *MapFile) seal() error {
	o, err := m.usePage(m.unsealed)
	if err != nil {
		return err
	}
	if err := m.releasePage(); err != nil {
		return err
	}
	m.unsealed = 0
	if o.Live() == 0 && o.Dead() == 0 {
		m.alloc.PushFree(o.Offset())
		return nil
	}
	return m.index.linkPage(IndexEntry{MBR: o.MBR(), Child: o.Offset()})
}

// placeBalanced descends the index to the best object page for rec and
// makes room in it, splitting it when it is full.
func (m *MapFile) placeBalanced(rec *ObjectHeader, n int) error {
	x := m.index
	if x.Root() == 0 {
		o := newObjectPage(m.alloc.Allocate(), m.store.PageSize())
		if err := m.setPage(o); err != nil {
			return err
		}
		x.setRoot(o.Offset(), EmptyRect())
	} else {
		target, err := x.chooseObjectPage(rec.MBR, m.liveCount)
		if err != nil {
			return err
		}
		if _, err := m.usePage(target); err != nil {
			return err
		}
	}

	o := m.cur
	switch {
	case !o.accepts(rec.Type, rec.MBR):
		// compressed records share the page center; give this one its own page
		fresh := newObjectPage(m.alloc.Allocate(), m.store.PageSize())
		fresh.lockCenter(rec.MBR.Center())
		if err := m.setPage(fresh); err != nil {
			return err
		}
		if err := x.addEntry(IndexEntry{MBR: rec.MBR, Child: fresh.Offset()}); err != nil {
			return err
		}
	case o.Free() < n:
		if o.Dead() > 0 {
			if err := m.compact(o); err != nil {
				return err
			}
		}
		if o.Free() < n {
			if err := m.splitPage(rec, n); err != nil {
				return err
			}
		}
	}

	o = m.cur
	hint := o.MBR()
	if hint.IsEmpty() {
		hint = rec.MBR
	}
	if err := x.locate(o.Offset(), hint); err != nil {
		return err
	}
	x.updateLeafEntry(o.MBR().Union(rec.MBR))
	return nil
}

// Coords returns the stream the pending insert's coordinate payload is
// written to.
func (m *MapFile) Coords() (*CoordStream, error) {
	if m.pending == nil {
		return nil, ErrNoPendingInsert
	}
	if !m.header.UsesCoords(m.pending.rec.Type) {
		return nil, errors.Wrapf(ErrObjectType, "%s has no coordinate payload", m.pending.rec.Type)
	}
	return m.coordWriter()
}

// CommitInsert writes the record reserved by PrepareInsert. Type, id and
// the coordinate reference are taken from the prepared record; MBR and body
// may have been completed by the caller.
func (m *MapFile) CommitInsert(rec *ObjectHeader) error {
	if m.closed {
		return ErrClosed
	}
	p := m.pending
	if p == nil {
		return ErrNoPendingInsert
	}
	if rec.ID != p.rec.ID || rec.Type != p.rec.Type {
		return errors.Wrapf(ErrIDMismatch, "prepared %s %d, committing %s %d", p.rec.Type, p.rec.ID, rec.Type, rec.ID)
	}
	o := m.cur
	if o == nil || o.Offset() != p.page {
		return errors.Wrapf(ErrCorrupt, "object page %d of pending insert is gone", p.page)
	}
	h := m.header
	rec.CoordPtr, rec.CoordSize = p.rec.CoordPtr, 0
	if h.UsesCoords(rec.Type) {
		cs, err := m.coordWriter()
		if err != nil {
			return err
		}
		rec.CoordSize = cs.Written()
		o.setCoordChain(cs.First(), cs.Last())
		if rec.CoordSize > h.MaxCoordBufSize {
			h.MaxCoordBufSize = rec.CoordSize
		}
	}
	rec.CenterX, rec.CenterY = o.Center()
	before := o.MBR()
	if err := o.writeAt(h, p.pos, rec); err != nil {
		if rerr := m.rollbackInsert(); rerr != nil {
			m.log.WithError(rerr).Warn("rollback of failed insert")
		}
		return err
	}
	m.pending = nil
	h.Count(rec.Type, 1)
	h.MBR = h.MBR.Union(rec.MBR)
	if m.opts.IndexMode == IndexBalanced && !before.Union(p.rec.MBR).Contains(o.MBR()) {
		if err := m.index.locate(o.Offset(), before.Union(p.rec.MBR)); err != nil {
			return err
		}
		m.index.updateLeafEntry(o.MBR())
	}
	return nil
}

// rollbackInsert drops the slot reserved by a pending insert, also when the
// page was already written out with the empty slot. Coordinate bytes already
// written stay unreferenced in the chain.
func (m *MapFile) rollbackInsert() error {
	p := m.pending
	if p == nil {
		return nil
	}
	m.pending = nil
	if m.cur != nil && m.cur.Offset() == p.page {
		m.cur.unreserve(p.pos)
	} else if err := dropObjectTail(m.store, p.page, p.pos); err != nil {
		return err
	}
	return m.ids.Set(p.rec.ID, 0)
}

// MarkDeleted tombstones the record of id and clears its id index entry.
// The space is reclaimed by a later compaction or split.
func (m *MapFile) MarkDeleted(id int32) error {
	if err := m.writable(); err != nil {
		return err
	}
	off, err := m.ids.Get(id)
	if err != nil || off == 0 {
		return err
	}
	o, err := m.usePage(m.store.pageOf(off))
	if err != nil {
		return err
	}
	pos := int(off - o.Offset())
	rec, err := o.ReadAt(m.header, pos)
	if err != nil {
		return err
	}
	if rec.Deleted() || rec.RowID() != id {
		return errors.Wrapf(ErrIDMismatch, "id %d resolves to object %d at %d", id, rec.RowID(), off)
	}
	if err := o.markDeleted(pos, id); err != nil {
		return err
	}
	m.header.Count(rec.Type, -1)
	if m.objOff == off {
		m.obj, m.objOff = ObjectHeader{}, 0
	}
	return m.ids.Set(id, 0)
}

// MoveToObject makes the record of id current and returns its type. Rows
// without geometry yield TypeNone.
func (m *MapFile) MoveToObject(id int32) (ObjectType, error) {
	if m.closed {
		return TypeNone, ErrClosed
	}
	if m.pending != nil {
		return TypeNone, ErrPendingInsert
	}
	m.obj, m.objOff = ObjectHeader{}, 0
	if m.noGeometry {
		return TypeNone, nil
	}
	off, err := m.ids.Get(id)
	if err != nil || off == 0 {
		return TypeNone, err
	}
	o, err := m.usePage(m.store.pageOf(off))
	if err != nil {
		return TypeNone, err
	}
	rec, err := o.ReadAt(m.header, int(off-o.Offset()))
	if err != nil {
		return TypeNone, err
	}
	if rec.Deleted() || rec.RowID() != id {
		return TypeNone, errors.Wrapf(ErrIDMismatch, "id %d resolves to object %d at %d", id, rec.RowID(), off)
	}
	m.obj, m.objOff = rec, off
	return rec.Type, nil
}

// Object returns the current object, set by MoveToObject or SequentialNext.
func (m *MapFile) Object() ObjectHeader { return m.obj }

// ObjectOffset is the absolute offset of the current object, 0 for none.
func (m *MapFile) ObjectOffset() int32 { return m.objOff }

// CoordReader opens the coordinate payload of the current object.
func (m *MapFile) CoordReader() (*CoordStream, error) {
	if m.pending != nil {
		return nil, ErrPendingInsert
	}
	if m.objOff == 0 || !m.header.UsesCoords(m.obj.Type) {
		return nil, errors.Wrapf(ErrObjectType, "current object has no coordinate payload")
	}
	if err := m.flushPage(); err != nil {
		return nil, err
	}
	return seekCoords(m.store, m.obj.CoordPtr)
}

// SetSpatialFilter restricts SequentialNext to objects intersecting r.
func (m *MapFile) SetSpatialFilter(r Rect) {
	m.filter, m.filtered = r, true
	m.seq = seqState{}
}

// SetSpatialFilterBound is SetSpatialFilter for a real-world bound.
func (m *MapFile) SetSpatialFilterBound(b orb.Bound) {
	m.SetSpatialFilter(RectFromBound(m.header, b))
}

func (m *MapFile) ClearSpatialFilter() {
	m.filter, m.filtered = EmptyRect(), false
	m.seq = seqState{}
}

// commitAll writes every dirty page so that the file can be traversed from
// disk. The open direct mode page stays unsealed.
func (m *MapFile) commitAll() error {
	if m.mode == ModeRead || m.noGeometry {
		return nil
	}
	if m.pending != nil {
		return ErrPendingInsert
	}
	if err := m.releasePage(); err != nil {
		return err
	}
	return m.index.commit()
}

// SequentialNext returns the id of the object following prevID in on-disk
// order and makes it current; prevID <= 0 starts over. It returns io.EOF
// past the last object.
func (m *MapFile) SequentialNext(prevID int32) (int32, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if m.noGeometry {
		return 0, io.EOF
	}
	if m.pending != nil {
		return 0, ErrPendingInsert
	}
	if err := m.commitAll(); err != nil {
		return 0, err
	}
	restart := prevID <= 0 || m.seq.cursor == nil || prevID != m.seq.lastID
	if restart {
		m.seq = seqState{cursor: newPageCursor(m.index, m.filter, m.filtered)}
	}
	skip := restart && prevID > 0
	for {
		rec, off, err := m.nextRecord()
		if err != nil {
			if err == io.EOF {
				m.obj, m.objOff = ObjectHeader{}, 0
				m.noteDepth(m.seq.cursor)
			}
			return 0, err
		}
		m.seq.lastID = rec.RowID()
		if skip {
			if rec.RowID() == prevID {
				skip = false
			}
			continue
		}
		m.obj, m.objOff = rec, off
		return rec.RowID(), nil
	}
}

func (m *MapFile) nextRecord() (ObjectHeader, int32, error) {
	s := &m.seq
	for {
		if s.page == 0 {
			off, err := s.cursor.Next()
			if err == io.EOF && m.unsealed != 0 && !s.unsealed {
				s.unsealed = true
				off, err = m.unsealed, nil
			}
			if err != nil {
				return ObjectHeader{}, 0, err
			}
			s.page, s.pos = off, objPageHeaderSize
		}
		o, err := m.usePage(s.page)
		if err != nil {
			return ObjectHeader{}, 0, err
		}
		o.page.cursor = s.pos
		rec, pos, err := o.Next(m.header)
		if err == io.EOF {
			s.page = 0
			continue
		}
		if err != nil {
			return ObjectHeader{}, 0, err
		}
		s.pos = o.page.cursor
		if rec.Deleted() || (m.filtered && !rec.MBR.Intersects(m.filter)) {
			continue
		}
		return rec, o.Offset() + int32(pos), nil
	}
}

// SearchPages lists the object pages whose index entry intersects b.
func (m *MapFile) SearchPages(b orb.Bound) ([]int32, error) {
	if m.noGeometry {
		return nil, nil
	}
	if err := m.commitAll(); err != nil {
		return nil, err
	}
	c := newPageCursor(m.index, RectFromBound(m.header, b), true)
	var out []int32
	for {
		off, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, off)
	}
	if m.unsealed != 0 {
		out = append(out, m.unsealed)
	}
	m.noteDepth(c)
	return out, nil
}

func (m *MapFile) noteDepth(c *pageCursor) {
	if d := uint8(c.maxDepth); d > m.header.MaxIndexDepth {
		m.header.MaxIndexDepth = d
	}
}

// Sync writes everything held in memory: object and coordinate pages, the
// tool catalog, the index, the free list and the header page. An open
// direct mode page is sealed first.
func (m *MapFile) Sync() error {
	if err := m.writable(); err != nil {
		return err
	}
	return m.flush()
}

func (m *MapFile) flush() error {
	h := m.header
	if err := m.releasePage(); err != nil {
		return err
	}
	if m.unsealed != 0 {
		if err := m.seal(); err != nil {
			return err
		}
	}
	if err := m.tools.flush(m.store, m.alloc, h); err != nil {
		return err
	}
	if err := m.index.commit(); err != nil {
		return err
	}
	h.IndexRoot = m.index.Root()
	rootMBR, err := m.index.RootMBR()
	if err != nil {
		return err
	}
	if !rootMBR.IsEmpty() {
		h.MBR = rootMBR
	}
	if d := uint8(m.index.Depth()); d > h.MaxIndexDepth {
		h.MaxIndexDepth = d
	}
	if h.GarbageHead, err = m.alloc.flush(m.store); err != nil {
		return err
	}
	p := newPage(PageHeader, 0, m.store.headerSize, true)
	if err := h.encode(p); err != nil {
		return err
	}
	if err := m.store.Commit(p); err != nil {
		return err
	}
	return m.store.Sync()
}

// Close flushes a writable file in the order coordinates, objects, tools,
// index, free list and header, then closes it. A pending insert is dropped.
func (m *MapFile) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.noGeometry {
		return nil
	}
	if m.mode == ModeRead {
		return m.store.Close()
	}
	if m.pending != nil {
		m.log.WithField("id", m.pending.rec.ID).Warn("pending insert dropped at close")
		if err := m.rollbackInsert(); err != nil {
			_ = m.store.Close()
			return err
		}
	}
	if err := m.flush(); err != nil {
		_ = m.store.Close()
		return err
	}
	if m.header.Overflow {
		m.log.Warn("coordinates outside the file bounds were clamped")
	}
	return m.store.Close()
}
