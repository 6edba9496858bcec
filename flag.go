package tabmap

// Object length table entries keep the record length in the low 7 bits and
// mark records that own a coordinate payload with the high bit.
const (
	objLenCoord uint8 = 0x80
	objLenMask  uint8 = 0x7f
)

// A tombstoned record keeps its id with deletedFlag set. Either of the two
// top bits marks a record deleted; live ids are below 1<<30.
const (
	deletedFlag uint32 = 0x40000000
	deletedMask uint32 = 0xC0000000
)

func setFlag(b, flag uint8) uint8   { return b | flag }
func clearFlag(b, flag uint8) uint8 { return b &^ flag }
func hasFlag(b, flag uint8) bool    { return b&flag != 0 }

func tombstone(id int32) int32  { return int32(uint32(id) | deletedFlag) }
func isTombstone(id int32) bool { return uint32(id)&deletedMask != 0 }
func liveID(id int32) int32     { return int32(uint32(id) &^ deletedMask) }
