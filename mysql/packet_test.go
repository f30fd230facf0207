package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthEncodedIntegerRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xfa, 0xfb, 0xffff, 0x10000, 0xffffff, 0x1000000, 1<<63 + 17} {
		b := appendLengthEncodedInteger(nil, v)
		got, isNull, n := readLengthEncodedInteger(b)
		require.Equal(t, len(b), n, "value %d", v)
		assert.False(t, isNull)
		assert.Equal(t, v, got)
	}
}

func TestLengthEncodedIntegerNullAndShort(t *testing.T) {
	v, isNull, n := readLengthEncodedInteger([]byte{0xfb})
	assert.True(t, isNull)
	assert.Equal(t, 1, n)
	assert.Zero(t, v)

	_, _, n = readLengthEncodedInteger([]byte{0xfc, 0x01})
	assert.Zero(t, n, "truncated 2-byte integer")
	_, _, n = readLengthEncodedInteger(nil)
	assert.Zero(t, n, "empty input")
}

func TestReadLengthEncodedString(t *testing.T) {
	b := appendLengthEncodedInteger(nil, 5)
	b = append(b, "hello"...)
	s, isNull, n := readLengthEncodedString(b)
	require.Equal(t, len(b), n)
	assert.False(t, isNull)
	assert.Equal(t, "hello", string(s))

	_, isNull, n = readLengthEncodedString([]byte{0xfb})
	assert.True(t, isNull)
	assert.Equal(t, 1, n)

	_, _, n = readLengthEncodedString([]byte{5, 'h', 'i'})
	assert.Zero(t, n, "truncated string")
}

func TestParseOKPacket(t *testing.T) {
	// OK: affected=3, insertID=7, status=more-results, warnings=2.
	b := []byte{0x00, 0x03, 0x07}
	b = append(b, byte(statusMoreResultsExists), 0x00, 0x02, 0x00)
	ok, err := parseOKPacket(b)
	require.Nil(t, err)
	assert.Equal(t, uint64(3), ok.affectedRows)
	assert.Equal(t, uint64(7), ok.insertID)
	assert.Equal(t, statusMoreResultsExists, ok.status)
	assert.Equal(t, uint16(2), ok.warnings)
}

func TestParseOKPacketTruncated(t *testing.T) {
	_, err := parseOKPacket([]byte{0x00, 0x01, 0x00})
	require.NotNil(t, err)
	assert.Equal(t, crMalformedPacket, err.Code)
}

func TestParseERRPacket(t *testing.T) {
	b := []byte{0xff, 0x48, 0x04} // 1096
	b = append(b, '#')
	b = append(b, "HY000"...)
	b = append(b, "No tables used"...)
	e := parseERRPacket(b)
	assert.Equal(t, uint16(1096), e.Code)
	assert.Equal(t, "HY000", e.SQLState)
	assert.Equal(t, "No tables used", e.Message)
	assert.False(t, e.ServerGone())
}

func TestParseERRPacketServerGone(t *testing.T) {
	for _, code := range []uint16{2006, 2013} {
		e := &Error{Code: code}
		assert.True(t, e.ServerGone(), "code %d", code)
	}
	assert.False(t, (&Error{Code: 1064}).ServerGone())
}

func TestEOFPacketDetection(t *testing.T) {
	eof := []byte{0xfe, 0x00, 0x00, byte(statusMoreResultsExists), 0x00}
	assert.True(t, isEOFPacket(eof))
	assert.Equal(t, statusMoreResultsExists, parseEOFPacket(eof))

	// A 9+ byte payload starting 0xfe is a length-encoded integer, not
	// an EOF marker.
	big := appendLengthEncodedInteger(nil, 1<<60)
	assert.False(t, isEOFPacket(big))
}

// buildTestHandshake assembles a protocol-10 greeting like a MariaDB
// server sends it.
func buildTestHandshake(authData []byte, plugin string, caps uint32) []byte {
	b := []byte{10}
	b = append(b, "8.0.0-test"...)
	b = append(b, 0)
	b = append(b, 0x39, 0x30, 0x00, 0x00) // connection id 12345
	b = append(b, authData[:8]...)
	b = append(b, 0)                             // filler
	b = append(b, byte(caps), byte(caps>>8))     // capabilities low
	b = append(b, 33)                            // collation
	b = append(b, 0x02, 0x00)                    // status: autocommit
	b = append(b, byte(caps>>16), byte(caps>>24)) // capabilities high
	b = append(b, byte(len(authData)+1))         // auth data length
	b = append(b, make([]byte, 10)...)           // reserved
	b = append(b, authData[8:]...)
	b = append(b, 0)
	if caps&clientPluginAuth != 0 {
		b = append(b, plugin...)
		b = append(b, 0)
	}
	return b
}

func TestParseHandshake(t *testing.T) {
	authData := []byte("abcdefgh0123456789jk") // 20 bytes
	caps := clientProtocol41 | clientSecureConnection | clientPluginAuth
	b := buildTestHandshake(authData, defaultAuthPlugin, caps)

	h, err := parseHandshake(b)
	require.Nil(t, err)
	assert.Equal(t, "8.0.0-test", h.serverVersion)
	assert.Equal(t, uint32(12345), h.connectionID)
	assert.Equal(t, authData, h.authData)
	assert.Equal(t, defaultAuthPlugin, h.authPlugin)
	assert.Equal(t, byte(33), h.collation)
	assert.Equal(t, statusAutocommit, h.status)
	assert.Equal(t, caps, h.capabilities&caps)
}

func TestParseHandshakeRejectsERR(t *testing.T) {
	b := []byte{0xff, 0x15, 0x04}
	b = append(b, "Access denied"...)
	_, err := parseHandshake(b)
	require.NotNil(t, err)
	assert.Equal(t, uint16(1045), err.Code)
}

func TestParseHandshakeRejectsUnknownProtocol(t *testing.T) {
	_, err := parseHandshake([]byte{9, 'x', 0})
	require.NotNil(t, err)
	assert.Equal(t, crMalformedPacket, err.Code)
}

func TestParseColumnDef(t *testing.T) {
	var b []byte
	for _, s := range []string{"def", "test", "t", "t"} {
		b = appendLengthEncodedInteger(b, uint64(len(s)))
		b = append(b, s...)
	}
	b = appendLengthEncodedInteger(b, 2)
	b = append(b, "id"...)
	// Trailing fixed-length fields are not inspected.
	b = append(b, make([]byte, 13)...)

	col, err := parseColumnDef(b)
	require.Nil(t, err)
	assert.Equal(t, "id", col.name)
}

func TestParseTextRow(t *testing.T) {
	var b []byte
	b = appendLengthEncodedInteger(b, 1)
	b = append(b, '1')
	b = append(b, 0xfb) // NULL
	b = appendLengthEncodedInteger(b, 3)
	b = append(b, "abc"...)

	row, err := parseTextRow(b, 3)
	require.Nil(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, []byte("1"), row[0])
	assert.Nil(t, row[1])
	assert.Equal(t, []byte("abc"), row[2])
}

func TestPacketHeader(t *testing.T) {
	h := appendPacketHeader(nil, 0x030201, 5)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x05}, h)
}
