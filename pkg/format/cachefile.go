package format

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	cacheHeaderSize      = 44
	cacheDirHeaderSize   = 56
	cacheDirEntrySize    = 28
	gcfBlockEntrySize    = 28
	gcfBlockEntryMapSize = 8
	cacheFlagFile        = 0x00004000
	cacheNoParent        = 0xffffffff
)

// CacheHeader opens both GCF and NCF files. MajorVersion selects the
// variant: 1 is a game cache with block data, 2 is a "no cache" index whose
// files live next to it on disk.
type CacheHeader struct {
	Dummy0            uint32
	MajorVersion      uint32
	MinorVersion      uint32
	CacheID           uint32
	LastVersionPlayed uint32
	Dummy1            uint32
	Dummy2            uint32
	FileSize          uint32
	BlockSize         uint32
	BlockCount        uint32
	Dummy3            uint32
}

// MarshalBinary re-encodes the header.
func (h CacheHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// GCFBlockEntryHeader precedes the block entries. Checksum is the sum of
// the seven fields before it.
type GCFBlockEntryHeader struct {
	BlockCount uint32
	BlocksUsed uint32
	Dummy0     uint32
	Dummy1     uint32
	Dummy2     uint32
	Dummy3     uint32
	Dummy4     uint32
	Checksum   uint32
}

// GCFBlockEntry describes one run of a file's data.
type GCFBlockEntry struct {
	EntryFlags              uint32
	FileDataOffset          uint32
	FileDataSize            uint32
	FirstDataBlockIndex     uint32
	NextBlockEntryIndex     uint32
	PreviousBlockEntryIndex uint32
	DirectoryIndex          uint32
}

// GCFFragmentationMapHeader precedes the data block chain. Checksum is the
// sum of the three fields before it.
type GCFFragmentationMapHeader struct {
	BlockCount       uint32
	FirstUnusedEntry uint32
	Terminator       uint32
	Checksum         uint32
}

// GCFBlockEntryMapHeader only exists before minor version 6. Checksum is
// the sum of the four fields before it.
type GCFBlockEntryMapHeader struct {
	BlockCount           uint32
	FirstBlockEntryIndex uint32
	LastBlockEntryIndex  uint32
	Dummy0               uint32
	Checksum             uint32
}

// CacheDirectoryHeader opens the directory block shared by GCF and NCF.
// DirectorySize covers the header and everything up to the directory map.
type CacheDirectoryHeader struct {
	Dummy0            uint32
	CacheID           uint32
	LastVersionPlayed uint32
	ItemCount         uint32
	FileCount         uint32
	Dummy1            uint32
	DirectorySize     uint32
	NameSize          uint32
	Info1Count        uint32
	CopyCount         uint32
	LocalCount        uint32
	Dummy2            uint32
	Dummy3            uint32
	Checksum          uint32
}

// CacheDirectoryEntry is one file or folder.
type CacheDirectoryEntry struct {
	NameOffset     uint32
	ItemSize       uint32
	ChecksumIndex  uint32
	DirectoryFlags uint32
	ParentIndex    uint32
	NextIndex      uint32
	FirstIndex     uint32
}

// GCFDataBlockHeader locates the data blocks. Minor version 3 omits
// LastVersionPlayed. Checksum is BlockCount + BlockSize +
// FirstBlockOffset + BlocksUsed.
type GCFDataBlockHeader struct {
	LastVersionPlayed uint32
	BlockCount        uint32
	BlockSize         uint32
	FirstBlockOffset  uint32
	BlocksUsed        uint32
	Checksum          uint32
}

// GCFLayout holds the block-level structures only game caches carry.
type GCFLayout struct {
	BlockEntryHeader GCFBlockEntryHeader
	BlockEntries     []GCFBlockEntry
	FragHeader       GCFFragmentationMapHeader
	FragMap          []uint32
	// DirectoryMap gives each item's first block entry (minor >= 5).
	DirectoryMap []uint32
	DataHeader   GCFDataBlockHeader
}

// CacheFile is a parsed GCF or NCF file.
type CacheFile struct {
	Integrity
	Header    CacheHeader
	Directory CacheDirectoryHeader
	Items     []CacheDirectoryEntry
	Paths     []string
	// GCF is nil for NCF files.
	GCF *GCFLayout

	streams []Stream
	entries []Entry
}

func (f *CacheFile) Tag() Tag {
	if f.Header.MajorVersion == 2 {
		return TagNCF
	}
	return TagGCF
}

func (f *CacheFile) Streams() []Stream { return f.streams }
func (f *CacheFile) Entries() []Entry  { return f.entries }

// ParseCacheFile parses a GCF (major 1, minor 3, 5 or 6) or NCF (major 2)
// file. Header checksums are verified; mismatches are flagged and parsing
// continues.
func ParseCacheFile(b []byte) (*CacheFile, error) {
	c := buf.NewCursor(b)
	f := &CacheFile{}
	c.Decode(&f.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("cache header: %w", err)
	}
	if f.Header.Dummy0 != 1 {
		return nil, fmt.Errorf("cache header: %w", ErrSignatureMismatch)
	}

	switch f.Header.MajorVersion {
	case 1:
		switch f.Header.MinorVersion {
		case 3, 5, 6:
		default:
			return nil, fmt.Errorf("gcf minor version %d: %w", f.Header.MinorVersion, ErrUnsupported)
		}
		g, err := f.parseBlocks(c)
		if err != nil {
			return nil, err
		}
		f.GCF = g
	case 2:
	default:
		return nil, fmt.Errorf("cache major version %d: %w", f.Header.MajorVersion, ErrUnsupported)
	}

	if err := f.parseDirectory(b, c); err != nil {
		return nil, err
	}
	if f.GCF != nil {
		if err := f.parseDataHeader(c); err != nil {
			return nil, err
		}
	}
	f.buildEntries(len(b))
	return f, nil
}

func (f *CacheFile) parseBlocks(c *buf.Cursor) (*GCFLayout, error) {
	g := &GCFLayout{}
	h := &g.BlockEntryHeader
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("gcf block entry header: %w", err)
	}
	if h.BlockCount+h.BlocksUsed+h.Dummy0+h.Dummy1+h.Dummy2+h.Dummy3+h.Dummy4 != h.Checksum {
		f.flag("gcf block entry header")
	}
	if _, err := buf.CheckListBounds(c.Len(), c.Offset(), int(h.BlockCount), gcfBlockEntrySize); err != nil {
		return nil, fmt.Errorf("gcf block entries: %w", err)
	}
	g.BlockEntries = make([]GCFBlockEntry, h.BlockCount)
	for i := range g.BlockEntries {
		c.Decode(&g.BlockEntries[i])
	}

	fh := &g.FragHeader
	c.Decode(fh)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("gcf fragmentation map header: %w", err)
	}
	if fh.BlockCount+fh.FirstUnusedEntry+fh.Terminator != fh.Checksum {
		f.flag("gcf fragmentation map header")
	}
	if _, err := buf.CheckListBounds(c.Len(), c.Offset(), int(fh.BlockCount), 4); err != nil {
		return nil, fmt.Errorf("gcf fragmentation map: %w", err)
	}
	g.FragMap = make([]uint32, fh.BlockCount)
	for i := range g.FragMap {
		g.FragMap[i] = c.U32()
	}

	if f.Header.MinorVersion < 6 {
		var mh GCFBlockEntryMapHeader
		c.Decode(&mh)
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("gcf block entry map header: %w", err)
		}
		if mh.BlockCount+mh.FirstBlockEntryIndex+mh.LastBlockEntryIndex+mh.Dummy0 != mh.Checksum {
			f.flag("gcf block entry map header")
		}
		if _, err := buf.CheckListBounds(c.Len(), c.Offset(), int(mh.BlockCount), gcfBlockEntryMapSize); err != nil {
			return nil, fmt.Errorf("gcf block entry map: %w", err)
		}
		c.Skip(int(mh.BlockCount) * gcfBlockEntryMapSize)
	}
	return g, c.Err()
}

func (f *CacheFile) parseDirectory(b []byte, c *buf.Cursor) error {
	start := c.Offset()
	d := &f.Directory
	c.Decode(d)
	if err := c.Err(); err != nil {
		return fmt.Errorf("cache directory header: %w", err)
	}
	if _, err := span(len(b), start, int(d.DirectorySize)); err != nil || d.DirectorySize < cacheDirHeaderSize {
		return fmt.Errorf("cache directory size %d: %w", d.DirectorySize, ErrOutOfRange)
	}
	dir := b[:start+int(d.DirectorySize)]
	n := int(d.ItemCount)
	if _, err := buf.CheckListBounds(len(dir), c.Offset(), n, cacheDirEntrySize); err != nil {
		return fmt.Errorf("cache directory entries: %w", err)
	}
	f.Items = make([]CacheDirectoryEntry, n)
	for i := range f.Items {
		c.Decode(&f.Items[i])
	}
	names, ok := buf.Slice(dir, c.Offset(), int(d.NameSize))
	if !ok {
		return fmt.Errorf("cache directory names: %w", ErrTruncated)
	}
	f.Paths = cachePaths(f.Items, names)

	// Info, copy and local tables are not needed to locate data.
	c.Seek(start + int(d.DirectorySize))
	if f.GCF != nil && f.Header.MinorVersion >= 5 {
		c.Skip(8)
		if _, err := buf.CheckListBounds(c.Len(), c.Offset(), n, 4); err != nil {
			return fmt.Errorf("gcf directory map: %w", err)
		}
		f.GCF.DirectoryMap = make([]uint32, n)
		for i := range f.GCF.DirectoryMap {
			f.GCF.DirectoryMap[i] = c.U32()
		}
	}
	return c.Err()
}

func (f *CacheFile) parseDataHeader(c *buf.Cursor) error {
	// Checksum header: a dummy word and the size of the checksum block.
	c.Skip(4)
	size := int(c.U32())
	c.Skip(size)
	h := &f.GCF.DataHeader
	if f.Header.MinorVersion == 3 {
		h.BlockCount = c.U32()
		h.BlockSize = c.U32()
		h.FirstBlockOffset = c.U32()
		h.BlocksUsed = c.U32()
		h.Checksum = c.U32()
	} else {
		c.Decode(h)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("gcf data block header: %w", err)
	}
	if h.BlockCount+h.BlockSize+h.FirstBlockOffset+h.BlocksUsed != h.Checksum {
		f.flag("gcf data block header")
	}
	return nil
}

func cachePaths(items []CacheDirectoryEntry, names []byte) []string {
	base := make([]string, len(items))
	for i, it := range items {
		if int(it.NameOffset) < len(names) {
			base[i] = decodeName(buf.CString(names[it.NameOffset:]))
		}
	}
	out := make([]string, len(items))
	for i := range items {
		p := base[i]
		j := items[i].ParentIndex
		for depth := 0; j != cacheNoParent && int(j) < len(items) && j != 0 && depth < len(items); depth++ {
			p = path.Join(base[j], p)
			j = items[j].ParentIndex
		}
		out[i] = p
	}
	return out
}

func (f *CacheFile) buildEntries(size int) {
	for i, it := range f.Items {
		if it.DirectoryFlags&cacheFlagFile == 0 {
			continue
		}
		name := f.Paths[i]
		if f.GCF == nil {
			f.entries = append(f.entries, unresolved(name, fmt.Errorf("ncf data is stored outside the index: %w", ErrUnsupported)))
			continue
		}
		spans, err := f.GCF.fileSpans(i, int(it.ItemSize), size, f.Header.MinorVersion)
		if err != nil {
			f.entries = append(f.entries, unresolved(name, err))
			continue
		}
		f.streams = append(f.streams, Stored(spans...))
		f.entries = append(f.entries, Entry{Name: name, Stream: len(f.streams) - 1, Size: int(it.ItemSize)})
	}
}

// fileSpans follows item's block entries and, within each, the data block
// chain of the fragmentation map.
func (g *GCFLayout) fileSpans(item, want, size int, minor uint32) ([]Span, error) {
	nEntries := len(g.BlockEntries)
	first := nEntries
	if minor >= 5 && item < len(g.DirectoryMap) {
		first = int(g.DirectoryMap[item])
	} else {
		for j, be := range g.BlockEntries {
			if be.EntryFlags != 0 && int(be.DirectoryIndex) == item && be.FileDataOffset == 0 {
				first = j
				break
			}
		}
	}

	term := uint32(0xffffffff)
	if g.FragHeader.Terminator == 0 {
		term = 0xffff
	}
	bs := int(g.DataHeader.BlockSize)
	if bs == 0 && want > 0 {
		return nil, fmt.Errorf("gcf block size 0: %w", ErrOutOfRange)
	}

	var spans []Span
	got := 0
	for be, steps := first, 0; be < nEntries && steps < nEntries && got < want; steps++ {
		e := g.BlockEntries[be]
		left := int(e.FileDataSize)
		db := e.FirstDataBlockIndex
		for hops := 0; left > 0 && db < term && db < g.DataHeader.BlockCount && int(db) < len(g.FragMap) && hops <= len(g.FragMap); hops++ {
			n := min(left, bs)
			s, err := span(size, int(g.DataHeader.FirstBlockOffset)+int(db)*bs, n)
			if err != nil {
				return nil, fmt.Errorf("gcf data block %d: %w", db, err)
			}
			spans = append(spans, s)
			left -= n
			got += n
			db = g.FragMap[db]
		}
		be = int(e.NextBlockEntryIndex)
	}
	if got < want {
		return nil, fmt.Errorf("gcf block chain holds %d of %d bytes: %w", got, want, ErrOutOfRange)
	}
	return spans, nil
}
