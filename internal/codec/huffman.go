package codec

import "fmt"

type bitSource interface {
	bit() (uint32, error)
}

// huffman is a canonical prefix code, decoded one bit at a time from the
// most significant end. Codes of equal length are assigned in symbol order,
// the convention shared by LZX and bzip2.
type huffman struct {
	count  []uint16 // codes per length, index 0 unused
	symbol []uint16 // symbols ordered by (length, value)
	empty  bool
}

// newHuffman builds a decoder from code lengths (0 = unused). Over-subscribed
// length sets are rejected. An all-zero set yields an empty code that fails
// on first use.
func newHuffman(lengths []uint8, maxLen int) (*huffman, error) {
	h := &huffman{count: make([]uint16, maxLen+1)}
	for _, l := range lengths {
		if int(l) > maxLen {
			return nil, fmt.Errorf("huffman: code length %d exceeds %d: %w", l, maxLen, ErrCorrupt)
		}
		h.count[l]++
	}
	h.count[0] = 0
	if totalCodes(h.count) == 0 {
		h.empty = true
		return h, nil
	}

	left := 1
	for l := 1; l <= maxLen; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return nil, fmt.Errorf("huffman: over-subscribed lengths: %w", ErrCorrupt)
		}
	}

	offs := make([]uint16, maxLen+2)
	for l := 1; l <= maxLen; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	h.symbol = make([]uint16, offs[maxLen+1])
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = uint16(sym)
			offs[l]++
		}
	}
	return h, nil
}

func totalCodes(count []uint16) int {
	n := 0
	for _, c := range count {
		n += int(c)
	}
	return n
}

func (h *huffman) decode(br bitSource) (int, error) {
	if h.empty {
		return 0, fmt.Errorf("huffman: symbol from empty code: %w", ErrCorrupt)
	}
	code, first, index := 0, 0, 0
	for l := 1; l < len(h.count); l++ {
		b, err := br.bit()
		if err != nil {
			return 0, err
		}
		code |= int(b)
		n := int(h.count[l])
		if code-first < n {
			return int(h.symbol[index+code-first]), nil
		}
		index += n
		first += n
		first <<= 1
		code <<= 1
	}
	return 0, fmt.Errorf("huffman: invalid code: %w", ErrCorrupt)
}
