package macho

// uleb128 decodes an unsigned LEB128 integer starting at data[pos], returning
// the value and the position just past it (original_source/loader.c
// read_uleb_integer).
func uleb128(data []byte, pos uint32) (uint64, uint32) {
	var result uint64
	var shift uint
	for {
		b := data[pos]
		pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, pos
}

// sleb128 decodes a signed LEB128 integer (original_source/loader.c
// read_sleb_integer).
func sleb128(data []byte, pos uint32) (int64, uint32) {
	var result int64
	var shift uint
	var b byte
	for {
		b = data[pos]
		pos++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -(int64(1) << shift)
	}
	return result, pos
}
