package mysql

import "encoding/binary"

// Wire framing helpers for the client/server protocol: 3-byte
// little-endian payload length plus a sequence byte, length-encoded
// integers and strings, and the OK / ERR / EOF / handshake payloads.

const packetHeaderLen = 4

// appendPacketHeader appends a 4-byte header for a payload of the
// given length and sequence number.
func appendPacketHeader(dst []byte, length int, seq uint8) []byte {
	return append(dst,
		byte(length),
		byte(length>>8),
		byte(length>>16),
		seq,
	)
}

// readLengthEncodedInteger decodes a length-encoded integer. isNull is
// set for the 0xfb NULL marker; n is the number of bytes consumed
// (0 when b is too short).
func readLengthEncodedInteger(b []byte) (value uint64, isNull bool, n int) {
	if len(b) == 0 {
		return 0, false, 0
	}
	switch b[0] {
	case 0xfb:
		return 0, true, 1
	case 0xfc:
		if len(b) < 3 {
			return 0, false, 0
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), false, 3
	case 0xfd:
		if len(b) < 4 {
			return 0, false, 0
		}
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, false, 4
	case 0xfe:
		if len(b) < 9 {
			return 0, false, 0
		}
		return binary.LittleEndian.Uint64(b[1:9]), false, 9
	default:
		return uint64(b[0]), false, 1
	}
}

// appendLengthEncodedInteger appends v in length-encoded form.
func appendLengthEncodedInteger(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfb:
		return append(dst, byte(v))
	case v <= 0xffff:
		return append(dst, 0xfc, byte(v), byte(v>>8))
	case v <= 0xffffff:
		return append(dst, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	default:
		return append(dst, 0xfe,
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

// readLengthEncodedString decodes a length-encoded string. The
// returned slice aliases b.
func readLengthEncodedString(b []byte) (s []byte, isNull bool, n int) {
	length, isNull, n := readLengthEncodedInteger(b)
	if n == 0 || isNull {
		return nil, isNull, n
	}
	end := n + int(length)
	if end > len(b) {
		return nil, false, 0
	}
	return b[n:end], false, end
}

// okPacket is a decoded OK (or EOF-as-OK) payload.
type okPacket struct {
	affectedRows uint64
	insertID     uint64
	status       uint16
	warnings     uint16
}

// parseOKPacket decodes an OK payload (first byte 0x00, already
// verified by the caller).
func parseOKPacket(b []byte) (ok okPacket, err *Error) {
	pos := 1
	affected, _, n := readLengthEncodedInteger(b[pos:])
	if n == 0 {
		return ok, clientError(crMalformedPacket, "malformed OK packet")
	}
	pos += n
	insertID, _, n := readLengthEncodedInteger(b[pos:])
	if n == 0 {
		return ok, clientError(crMalformedPacket, "malformed OK packet")
	}
	pos += n
	if len(b) < pos+4 {
		return ok, clientError(crMalformedPacket, "short OK packet")
	}
	ok.affectedRows = affected
	ok.insertID = insertID
	ok.status = binary.LittleEndian.Uint16(b[pos : pos+2])
	ok.warnings = binary.LittleEndian.Uint16(b[pos+2 : pos+4])
	return ok, nil
}

// parseEOFPacket decodes a protocol-4.1 EOF payload (0xfe with a
// payload shorter than 9 bytes): warnings then status.
func parseEOFPacket(b []byte) (status uint16) {
	if len(b) >= 5 {
		return binary.LittleEndian.Uint16(b[3:5])
	}
	return 0
}

// isEOFPacket reports whether payload b is an EOF marker rather than a
// length-encoded integer starting with 0xfe.
func isEOFPacket(b []byte) bool {
	return len(b) > 0 && b[0] == packetEOF && len(b) < 9
}

// parseERRPacket decodes an ERR payload (first byte 0xff).
func parseERRPacket(b []byte) *Error {
	if len(b) < 3 {
		return clientError(crMalformedPacket, "malformed ERR packet")
	}
	e := &Error{Code: binary.LittleEndian.Uint16(b[1:3])}
	pos := 3
	if pos < len(b) && b[pos] == '#' {
		if len(b) >= pos+6 {
			e.SQLState = string(b[pos+1 : pos+6])
			pos += 6
		}
	}
	if pos <= len(b) {
		e.Message = string(b[pos:])
	}
	return e
}

// handshake is the decoded server greeting (protocol version 10).
type handshake struct {
	serverVersion string
	connectionID  uint32
	authData      []byte
	capabilities  uint32
	collation     byte
	status        uint16
	authPlugin    string
}

// parseHandshake decodes the initial handshake payload.
func parseHandshake(b []byte) (h handshake, err *Error) {
	if len(b) == 0 {
		return h, clientError(crMalformedPacket, "empty handshake")
	}
	if b[0] == packetERR {
		return h, parseERRPacket(b)
	}
	if b[0] != 10 {
		return h, clientError(crMalformedPacket, "unsupported protocol version %d", b[0])
	}
	pos := 1
	end := pos
	for end < len(b) && b[end] != 0 {
		end++
	}
	if end == len(b) {
		return h, clientError(crMalformedPacket, "malformed handshake")
	}
	h.serverVersion = string(b[pos:end])
	pos = end + 1
	if len(b) < pos+4+8+1+2 {
		return h, clientError(crMalformedPacket, "short handshake")
	}
	h.connectionID = binary.LittleEndian.Uint32(b[pos : pos+4])
	pos += 4
	h.authData = append(h.authData, b[pos:pos+8]...) // auth-plugin-data-part-1
	pos += 8
	pos++ // filler
	h.capabilities = uint32(binary.LittleEndian.Uint16(b[pos : pos+2]))
	pos += 2
	if pos < len(b) {
		h.collation = b[pos]
		pos++
	}
	if pos+2 <= len(b) {
		h.status = binary.LittleEndian.Uint16(b[pos : pos+2])
		pos += 2
	}
	if pos+2 <= len(b) {
		h.capabilities |= uint32(binary.LittleEndian.Uint16(b[pos:pos+2])) << 16
		pos += 2
	}
	authDataLen := 0
	if pos < len(b) {
		authDataLen = int(b[pos])
		pos++
	}
	pos += 10 // reserved
	if h.capabilities&clientSecureConnection != 0 && pos < len(b) {
		// auth-plugin-data-part-2: max(13, authDataLen-8) bytes, the
		// last of which is a NUL terminator.
		rest := 12
		if authDataLen-8 > 13 {
			rest = authDataLen - 8 - 1
		}
		if pos+rest > len(b) {
			rest = len(b) - pos
		}
		h.authData = append(h.authData, b[pos:pos+rest]...)
		pos += rest
		if pos < len(b) && b[pos] == 0 {
			pos++
		}
	}
	if h.capabilities&clientPluginAuth != 0 && pos < len(b) {
		end = pos
		for end < len(b) && b[end] != 0 {
			end++
		}
		h.authPlugin = string(b[pos:end])
	}
	return h, nil
}

// columnDef is the slice of a column definition packet this client
// cares about.
type columnDef struct {
	name string
}

// parseColumnDef decodes a protocol-4.1 column definition payload,
// skipping catalog, schema, table, and org_table to reach the column
// name.
func parseColumnDef(b []byte) (col columnDef, err *Error) {
	pos := 0
	for i := 0; i < 4; i++ { // catalog, schema, table, org_table
		_, _, n := readLengthEncodedString(b[pos:])
		if n == 0 {
			return col, clientError(crMalformedPacket, "malformed column definition")
		}
		pos += n
	}
	name, _, n := readLengthEncodedString(b[pos:])
	if n == 0 {
		return col, clientError(crMalformedPacket, "malformed column definition")
	}
	col.name = string(name)
	return col, nil
}

// parseTextRow decodes one text-protocol row into cells; a nil cell is
// SQL NULL. The cell slices are copied out of b.
func parseTextRow(b []byte, columns int) ([][]byte, *Error) {
	row := make([][]byte, columns)
	pos := 0
	for i := 0; i < columns; i++ {
		cell, isNull, n := readLengthEncodedString(b[pos:])
		if n == 0 && !isNull {
			return nil, clientError(crMalformedPacket, "malformed row packet")
		}
		if isNull {
			row[i] = nil
			pos += n
			continue
		}
		row[i] = append([]byte(nil), cell...)
		pos += n
	}
	return row, nil
}
