package model

import (
	"encoding/binary"
	"io"

	"github.com/bitcoincandy/candyd/errors"
)

// Consensus serialization primitives. Everything on the wire and on disk is
// little-endian with Bitcoin CompactSize length prefixes.

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteCompactSize writes a Bitcoin CompactSize length prefix.
func WriteCompactSize(w io.Writer, n uint64) error {
	switch {
	case n < 0xfd:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n <= 0xffff:
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(n))
		_, err := w.Write(buf[:])
		return err
	case n <= 0xffffffff:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		_, err := w.Write(buf[:])
		return err
	default:
		if _, err := w.Write([]byte{0xff}); err != nil {
			return err
		}
		return writeUint64(w, n)
	}
}

// ReadCompactSize reads a CompactSize prefix, rejecting non-canonical
// encodings the way the reference deserializer does.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var disc [1]byte
	if _, err := io.ReadFull(r, disc[:]); err != nil {
		return 0, err
	}

	switch disc[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint16(buf[:]))
		if n < 0xfd {
			return 0, errors.NewInvalidArgumentError("non-canonical CompactSize")
		}
		return n, nil
	case 0xfe:
		n, err := readUint32(r)
		if err != nil {
			return 0, err
		}
		if n <= 0xffff {
			return 0, errors.NewInvalidArgumentError("non-canonical CompactSize")
		}
		return uint64(n), nil
	case 0xff:
		n, err := readUint64(r)
		if err != nil {
			return 0, err
		}
		if n <= 0xffffffff {
			return 0, errors.NewInvalidArgumentError("non-canonical CompactSize")
		}
		return n, nil
	default:
		return uint64(disc[0]), nil
	}
}

// CompactSizeLen returns the encoded length of a CompactSize prefix.
func CompactSizeLen(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

const maxAllocSize = 32 * 1024 * 1024

func writeVarBytes(w io.Writer, b []byte) error {
	if err := WriteCompactSize(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)

	return err
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}

	if n > maxAllocSize {
		return nil, errors.NewInvalidArgumentError("variable length byte field too large: %d", n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}
