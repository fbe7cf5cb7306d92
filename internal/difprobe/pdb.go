package difprobe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/minidump"
)

const (
	msfSuperBlockSize = 56
	pdbInfoStream     = 1
	pdbDBIStream      = 3
	dbiMachineOffset  = 58
	msfNilStream      = 0xffffffff
)

var errShortPDB = errors.New("difprobe: truncated pdb")

// msf is a multi-stream file: a set of streams scattered over fixed-size
// blocks, located through a directory.
type msf struct {
	data      []byte
	blockSize uint32
	sizes     []uint32
	blocks    [][]uint32
}

func openMSF(data []byte) (*msf, error) {
	if len(data) < msfSuperBlockSize {
		return nil, errShortPDB
	}
	le := binary.LittleEndian
	blockSize := le.Uint32(data[32:])
	numDirBytes := le.Uint32(data[44:])
	blockMapAddr := le.Uint32(data[52:])
	switch blockSize {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("difprobe: invalid pdb block size %d", blockSize)
	}
	f := &msf{data: data, blockSize: blockSize}

	mapOff := uint64(blockMapAddr) * uint64(blockSize)
	n := uint64(blockCount(numDirBytes, blockSize))
	if mapOff+4*n > uint64(len(data)) {
		return nil, errShortPDB
	}
	dirBlocks := make([]uint32, n)
	for i := range dirBlocks {
		dirBlocks[i] = le.Uint32(data[mapOff+4*uint64(i):])
	}
	dir, err := f.read(dirBlocks, numDirBytes)
	if err != nil {
		return nil, err
	}

	if len(dir) < 4 {
		return nil, errShortPDB
	}
	numStreams := le.Uint32(dir)
	dir = dir[4:]
	if uint64(len(dir)) < 4*uint64(numStreams) {
		return nil, errShortPDB
	}
	f.sizes = make([]uint32, numStreams)
	for i := range f.sizes {
		f.sizes[i] = le.Uint32(dir[4*i:])
	}
	dir = dir[4*numStreams:]
	f.blocks = make([][]uint32, numStreams)
	for i, size := range f.sizes {
		if size == msfNilStream {
			continue
		}
		n := blockCount(size, blockSize)
		if uint64(len(dir)) < 4*uint64(n) {
			return nil, errShortPDB
		}
		f.blocks[i] = make([]uint32, n)
		for j := range f.blocks[i] {
			f.blocks[i][j] = le.Uint32(dir[4*j:])
		}
		dir = dir[4*n:]
	}
	return f, nil
}

func blockCount(size, blockSize uint32) uint32 {
	return (size + blockSize - 1) / blockSize
}

func (f *msf) read(blocks []uint32, size uint32) ([]byte, error) {
	out := make([]byte, 0, size)
	for _, b := range blocks {
		off := uint64(b) * uint64(f.blockSize)
		end := off + uint64(f.blockSize)
		if end > uint64(len(f.data)) {
			end = uint64(len(f.data))
		}
		if off >= end {
			return nil, errShortPDB
		}
		out = append(out, f.data[off:end]...)
	}
	if uint32(len(out)) < size {
		return nil, errShortPDB
	}
	return out[:size], nil
}

func (f *msf) stream(i int) ([]byte, bool) {
	if i >= len(f.sizes) || f.sizes[i] == msfNilStream {
		return nil, false
	}
	b, err := f.read(f.blocks[i], f.sizes[i])
	return b, err == nil
}

var pdbMachines = map[uint16]string{
	0x014c: "x86",
	0x8664: "x86_64",
	0x01c0: "arm",
	0x01c4: "arm",
	0xaa64: "arm64",
}

func probePDB(data []byte) (*Meta, error) {
	f, err := openMSF(data)
	if err != nil {
		return nil, err
	}
	info, ok := f.stream(pdbInfoStream)
	if !ok || len(info) < 28 {
		return nil, fmt.Errorf("difprobe: pdb info stream: %w", errShortPDB)
	}
	age := binary.LittleEndian.Uint32(info[8:])
	guid := minidump.GUIDFromBytes(info[12:28])

	m := &Meta{Kind: KindDebug, Format: FormatPDB}
	// The DBI stream carries the age the linker stamped into the matching
	// executable, which can lag the info stream's.
	if dbi, ok := f.stream(pdbDBIStream); ok && len(dbi) >= dbiMachineOffset+2 {
		age = binary.LittleEndian.Uint32(dbi[8:])
		if arch, ok := pdbMachines[binary.LittleEndian.Uint16(dbi[dbiMachineOffset:])]; ok {
			m.Arch = ptr(arch)
		}
	}
	m.DebugID = ptr(debugID(guid, age))
	return m, nil
}
