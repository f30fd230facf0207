//go:build linux

package mysql

import (
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// WaitFlags is the wait mask returned by the client's non-blocking
// operations: what the client needs before the operation can make
// progress. A zero mask means the operation completed.
type WaitFlags int

const (
	// WaitRead means the socket must become readable.
	WaitRead WaitFlags = 1 << iota
	// WaitWrite means the socket must become writable.
	WaitWrite
	// WaitExcept means an exceptional condition (urgent data) is
	// awaited.
	WaitExcept
	// WaitTimeout means a timer for TimeoutValue must be scheduled;
	// on expiry the operation is continued with this bit set.
	WaitTimeout
)

// Client is the non-blocking operation surface the connection state
// machine drives. Every operation is a Start/Cont pair: Start kicks
// the operation off and attempts as much I/O as the socket allows,
// Cont resumes it after the requested readiness arrived. Both return
// the next wait mask; zero means the operation finished (successfully
// when the error is nil).
type Client interface {
	ConnectStart() (WaitFlags, error)
	ConnectCont(ready WaitFlags) (WaitFlags, error)
	SetCharacterSetStart(name string) (WaitFlags, error)
	SetCharacterSetCont(ready WaitFlags) (WaitFlags, error)
	QueryStart(sql string) (WaitFlags, error)
	QueryCont(ready WaitFlags) (WaitFlags, error)
	StoreResultStart() (WaitFlags, error)
	StoreResultCont(ready WaitFlags) (WaitFlags, error)
	NextResultStart() (WaitFlags, error)
	NextResultCont(ready WaitFlags) (WaitFlags, error)
	PingStart() (WaitFlags, error)
	PingCont(ready WaitFlags) (WaitFlags, error)

	// TakeResult hands over the result of the last completed store (or
	// OK-only statement) and clears it.
	TakeResult() *Result
	// MoreResults reports whether the server announced further result
	// sets for the current statement.
	MoreResults() bool
	// Escape escapes s for inclusion in a single-quoted SQL literal,
	// honoring the session's NO_BACKSLASH_ESCAPES mode.
	Escape(s string) string
	// Socket returns the connection's file descriptor, or -1 before
	// ConnectStart.
	Socket() int
	// TimeoutValue returns the remaining time of the current
	// operation's deadline; meaningful when the wait mask contains
	// WaitTimeout.
	TimeoutValue() time.Duration
	// LastError returns the most recent operation error, if any.
	LastError() *Error
	// Close releases the connection, sending COM_QUIT best-effort.
	Close() error
}

// clientPhase tracks where the wire client is inside the current
// operation.
type clientPhase int

const (
	phaseIdle clientPhase = iota
	phaseTCPConnect
	phaseHandshakeRead
	phaseAuthWrite
	phaseAuthResultRead
	phaseQueryWrite
	phaseResponseRead
	phaseColumnsRead
	phaseRowsPending // response header consumed, rows not yet requested
	phaseRowsRead
)

// netClient speaks the MySQL client/server text protocol over a raw
// non-blocking TCP socket. It is not safe for concurrent use; the
// connector serialises all calls onto the loop goroutine.
type netClient struct {
	params  ConnParams
	timeout time.Duration // connect/read/write deadline per operation

	fd        int
	connected bool
	phase     clientPhase
	deadline  time.Time

	seq  uint8
	rbuf []byte
	wbuf []byte

	serverCapabilities uint32
	serverVersion      string
	status             uint16
	lastErr            *Error

	columnCount   int
	columns       []columnDef
	rows          [][][]byte
	pendingResult *Result
	moreResults   bool
}

// NewClient creates a non-blocking client for the given parameters.
// timeout bounds each operation (connect, write, read) individually;
// zero disables deadlines.
func NewClient(params ConnParams, timeout time.Duration) Client {
	return &netClient{params: params, timeout: timeout, fd: -1}
}

func (c *netClient) Socket() int { return c.fd }

// ServerVersion returns the version string from the server greeting;
// empty before the handshake.
func (c *netClient) ServerVersion() string { return c.serverVersion }

func (c *netClient) LastError() *Error { return c.lastErr }

func (c *netClient) MoreResults() bool { return c.moreResults }

func (c *netClient) TakeResult() *Result {
	r := c.pendingResult
	c.pendingResult = nil
	if r == nil {
		r = newResult(nil, nil, 0, 0)
	}
	return r
}

func (c *netClient) TimeoutValue() time.Duration {
	if c.deadline.IsZero() {
		return 0
	}
	d := time.Until(c.deadline)
	if d < 0 {
		d = 0
	}
	return d
}

func (c *netClient) Close() error {
	if c.fd < 0 {
		return nil
	}
	if c.connected {
		// Best-effort COM_QUIT; the server closes regardless.
		quit := appendPacketHeader(nil, 1, 0)
		quit = append(quit, comQuit)
		_, _ = unix.Write(c.fd, quit)
	}
	err := unix.Close(c.fd)
	c.fd = -1
	c.connected = false
	return err
}

// fail records err as the operation error and completes the operation.
func (c *netClient) fail(err *Error) (WaitFlags, error) {
	c.lastErr = err
	c.phase = phaseIdle
	c.deadline = time.Time{}
	return 0, err
}

// wait folds the deadline into the mask.
func (c *netClient) wait(mask WaitFlags) WaitFlags {
	if !c.deadline.IsZero() {
		mask |= WaitTimeout
	}
	return mask
}

func (c *netClient) armDeadline() {
	if c.timeout > 0 {
		c.deadline = time.Now().Add(c.timeout)
	}
}

func (c *netClient) timedOut(ready WaitFlags) bool {
	return ready&WaitTimeout != 0 && !c.deadline.IsZero() && !time.Now().Before(c.deadline)
}

// fill reads everything currently available into rbuf. A nil error
// with no fatal condition means the socket is drained (EAGAIN).
func (c *netClient) fill() *Error {
	var chunk [4096]byte
	for {
		n, err := unix.Read(c.fd, chunk[:])
		if n > 0 {
			c.rbuf = append(c.rbuf, chunk[:n]...)
			continue
		}
		switch err {
		case nil:
			return clientError(crServerGoneError, "server closed the connection")
		case unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return clientError(crServerLost, "read: %v", err)
		}
	}
}

// flushOut writes as much of wbuf as the socket accepts. done is true
// once the buffer is empty.
func (c *netClient) flushOut() (done bool, err *Error) {
	for len(c.wbuf) > 0 {
		n, werr := unix.Write(c.fd, c.wbuf)
		if n > 0 {
			c.wbuf = c.wbuf[n:]
			continue
		}
		switch werr {
		case unix.EAGAIN:
			return false, nil
		case unix.EINTR:
			continue
		default:
			return false, clientError(crServerLost, "write: %v", werr)
		}
	}
	c.wbuf = nil
	return true, nil
}

// nextPacket extracts one complete packet payload from rbuf, tracking
// the sequence number. Returns nil when no full packet is buffered.
func (c *netClient) nextPacket() []byte {
	if len(c.rbuf) < packetHeaderLen {
		return nil
	}
	length := int(c.rbuf[0]) | int(c.rbuf[1])<<8 | int(c.rbuf[2])<<16
	if len(c.rbuf) < packetHeaderLen+length {
		return nil
	}
	c.seq = c.rbuf[3] + 1
	payload := c.rbuf[packetHeaderLen : packetHeaderLen+length]
	c.rbuf = c.rbuf[packetHeaderLen+length:]
	return payload
}

// writePacket frames payload into wbuf with the current sequence
// number.
func (c *netClient) writePacket(payload []byte) *Error {
	if len(payload) > maxPacketSize {
		return clientError(crMalformedPacket, "packet too large (%d bytes)", len(payload))
	}
	c.wbuf = appendPacketHeader(c.wbuf, len(payload), c.seq)
	c.wbuf = append(c.wbuf, payload...)
	c.seq++
	return nil
}

// --- connect ---

func resolveHost(host string) (net.IP, *Error) {
	if host == "" {
		return net.IPv4(127, 0, 0, 1), nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	// Name resolution is synchronous, matching the C client's
	// connect-start behavior.
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, clientError(crConnHostError, "unknown host %q", host)
	}
	return ips[0], nil
}

func (c *netClient) ConnectStart() (WaitFlags, error) {
	ip, rerr := resolveHost(c.params.Host)
	if rerr != nil {
		return c.fail(rerr)
	}
	port := int(c.params.Port)
	if port == 0 {
		port = DefaultPort
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		domain = unix.AF_INET
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return c.fail(clientError(crConnHostError, "socket: %v", err))
	}
	c.fd = fd
	c.armDeadline()

	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		c.phase = phaseHandshakeRead
		return c.wait(WaitRead), nil
	case unix.EINPROGRESS:
		c.phase = phaseTCPConnect
		return c.wait(WaitWrite), nil
	default:
		_ = unix.Close(fd)
		c.fd = -1
		return c.fail(clientError(crConnHostError, "connect to %s:%d: %v", ip, port, err))
	}
}

func (c *netClient) ConnectCont(ready WaitFlags) (WaitFlags, error) {
	if c.timedOut(ready) {
		return c.fail(clientError(crServerLost, "connect timed out"))
	}
	for {
		switch c.phase {
		case phaseTCPConnect:
			soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if err != nil {
				return c.fail(clientError(crConnHostError, "getsockopt: %v", err))
			}
			if soerr != 0 {
				return c.fail(clientError(crConnHostError, "connect: %v", unix.Errno(soerr)))
			}
			c.phase = phaseHandshakeRead

		case phaseHandshakeRead:
			if err := c.fill(); err != nil {
				return c.fail(err)
			}
			pkt := c.nextPacket()
			if pkt == nil {
				return c.wait(WaitRead), nil
			}
			h, perr := parseHandshake(pkt)
			if perr != nil {
				return c.fail(perr)
			}
			c.serverCapabilities = h.capabilities
			c.serverVersion = h.serverVersion
			c.status = h.status
			// The response always advertises mysql_native_password; a
			// server that insists on another method answers with an
			// auth switch, handled below.
			if werr := c.writePacket(c.buildHandshakeResponse(h)); werr != nil {
				return c.fail(werr)
			}
			c.phase = phaseAuthWrite

		case phaseAuthWrite:
			done, err := c.flushOut()
			if err != nil {
				return c.fail(err)
			}
			if !done {
				return c.wait(WaitWrite), nil
			}
			c.phase = phaseAuthResultRead

		case phaseAuthResultRead:
			if err := c.fill(); err != nil {
				return c.fail(err)
			}
			pkt := c.nextPacket()
			if pkt == nil {
				return c.wait(WaitRead), nil
			}
			switch pkt[0] {
			case packetOK:
				ok, perr := parseOKPacket(pkt)
				if perr != nil {
					return c.fail(perr)
				}
				c.status = ok.status
				c.connected = true
				c.phase = phaseIdle
				c.deadline = time.Time{}
				return 0, nil
			case packetERR:
				return c.fail(parseERRPacket(pkt))
			case packetEOF:
				// Auth switch request: plugin name NUL, then new
				// scramble.
				nameEnd := 1
				for nameEnd < len(pkt) && pkt[nameEnd] != 0 {
					nameEnd++
				}
				plugin := string(pkt[1:nameEnd])
				if plugin != defaultAuthPlugin {
					return c.fail(clientError(crUnknownError, "unsupported auth plugin %q", plugin))
				}
				scramble := pkt[nameEnd+1:]
				if n := len(scramble); n > 0 && scramble[n-1] == 0 {
					scramble = scramble[:n-1]
				}
				if werr := c.writePacket(scramblePassword(scramble, c.params.Password)); werr != nil {
					return c.fail(werr)
				}
				c.phase = phaseAuthWrite
			default:
				return c.fail(clientError(crMalformedPacket, "unexpected auth packet 0x%02x", pkt[0]))
			}

		default:
			return c.fail(clientError(crUnknownError, "connect continued in phase %d", c.phase))
		}
	}
}

// buildHandshakeResponse assembles the protocol-4.1 handshake
// response: capabilities, max packet size, collation, 23 bytes of
// filler, user, scrambled password, optional database, and the auth
// plugin name.
func (c *netClient) buildHandshakeResponse(h handshake) []byte {
	caps := clientProtocol41 | clientLongPassword | clientSecureConnection |
		clientTransactions | clientMultiStatements | clientMultiResults |
		clientPluginAuth
	if c.params.DBName != "" {
		caps |= clientConnectWithDB
	}

	token := scramblePassword(h.authData, c.params.Password)

	out := make([]byte, 0, 64+len(c.params.User)+len(token)+len(c.params.DBName))
	out = append(out,
		byte(caps), byte(caps>>8), byte(caps>>16), byte(caps>>24),
		0, 0, 0, 0, // max packet size: no limit requested
		defaultCollationID,
	)
	out = append(out, make([]byte, 23)...)
	out = append(out, c.params.User...)
	out = append(out, 0)
	out = append(out, byte(len(token)))
	out = append(out, token...)
	if c.params.DBName != "" {
		out = append(out, c.params.DBName...)
		out = append(out, 0)
	}
	out = append(out, defaultAuthPlugin...)
	out = append(out, 0)
	return out
}

// --- command execution ---

func (c *netClient) resetResultState() {
	c.columnCount = 0
	c.columns = nil
	c.rows = nil
	c.pendingResult = nil
	c.moreResults = false
}

func (c *netClient) startCommand(payload []byte) (WaitFlags, error) {
	if !c.connected {
		return c.fail(clientError(crServerLost, "not connected"))
	}
	c.resetResultState()
	c.seq = 0
	if werr := c.writePacket(payload); werr != nil {
		return c.fail(werr)
	}
	c.armDeadline()
	c.phase = phaseQueryWrite
	return c.progressCommand(WaitWrite)
}

func (c *netClient) QueryStart(sql string) (WaitFlags, error) {
	payload := make([]byte, 0, 1+len(sql))
	payload = append(payload, comQuery)
	payload = append(payload, sql...)
	return c.startCommand(payload)
}

func (c *netClient) QueryCont(ready WaitFlags) (WaitFlags, error) {
	return c.progressCommand(ready)
}

// progressCommand advances the command until it blocks or the
// response header (plus column metadata, for result sets) has been
// consumed. Rows are left for the store-result operation.
func (c *netClient) progressCommand(ready WaitFlags) (WaitFlags, error) {
	if c.timedOut(ready) {
		return c.fail(clientError(crServerLost, "server did not respond in time"))
	}
	for {
		switch c.phase {
		case phaseQueryWrite:
			done, err := c.flushOut()
			if err != nil {
				return c.fail(err)
			}
			if !done {
				return c.wait(WaitWrite), nil
			}
			c.phase = phaseResponseRead

		case phaseResponseRead:
			if err := c.fill(); err != nil {
				return c.fail(err)
			}
			pkt := c.nextPacket()
			if pkt == nil {
				return c.wait(WaitRead), nil
			}
			switch pkt[0] {
			case packetOK:
				ok, perr := parseOKPacket(pkt)
				if perr != nil {
					return c.fail(perr)
				}
				c.status = ok.status
				c.moreResults = ok.status&statusMoreResultsExists != 0
				c.pendingResult = newResult(nil, nil, ok.affectedRows, ok.insertID)
				c.phase = phaseIdle
				c.deadline = time.Time{}
				return 0, nil
			case packetERR:
				return c.fail(parseERRPacket(pkt))
			case packetLocalInfile:
				return c.fail(clientError(crUnknownError, "LOCAL INFILE is not supported"))
			default:
				count, _, n := readLengthEncodedInteger(pkt)
				if n == 0 {
					return c.fail(clientError(crMalformedPacket, "malformed result header"))
				}
				c.columnCount = int(count)
				c.columns = make([]columnDef, 0, count)
				c.phase = phaseColumnsRead
			}

		case phaseColumnsRead:
			pkt := c.nextPacket()
			if pkt == nil {
				if err := c.fill(); err != nil {
					return c.fail(err)
				}
				if pkt = c.nextPacket(); pkt == nil {
					return c.wait(WaitRead), nil
				}
			}
			if isEOFPacket(pkt) {
				c.status = parseEOFPacket(pkt)
				c.phase = phaseRowsPending
				c.deadline = time.Time{}
				return 0, nil
			}
			col, perr := parseColumnDef(pkt)
			if perr != nil {
				return c.fail(perr)
			}
			c.columns = append(c.columns, col)

		default:
			return c.fail(clientError(crUnknownError, "command continued in phase %d", c.phase))
		}
	}
}

func (c *netClient) StoreResultStart() (WaitFlags, error) {
	if c.pendingResult != nil {
		// OK-only statement: the result was materialised by the
		// response header.
		return 0, nil
	}
	if c.phase != phaseRowsPending {
		return c.fail(clientError(crUnknownError, "store-result without a pending result set"))
	}
	c.phase = phaseRowsRead
	c.rows = nil
	c.armDeadline()
	return c.StoreResultCont(WaitRead)
}

func (c *netClient) StoreResultCont(ready WaitFlags) (WaitFlags, error) {
	if c.timedOut(ready) {
		return c.fail(clientError(crServerLost, "server did not respond in time"))
	}
	if c.phase != phaseRowsRead {
		return c.fail(clientError(crUnknownError, "store-result continued in phase %d", c.phase))
	}
	for {
		pkt := c.nextPacket()
		if pkt == nil {
			if err := c.fill(); err != nil {
				return c.fail(err)
			}
			if pkt = c.nextPacket(); pkt == nil {
				return c.wait(WaitRead), nil
			}
		}
		if pkt[0] == packetERR {
			return c.fail(parseERRPacket(pkt))
		}
		if isEOFPacket(pkt) {
			c.status = parseEOFPacket(pkt)
			c.moreResults = c.status&statusMoreResultsExists != 0
			names := make([]string, len(c.columns))
			for i, col := range c.columns {
				names[i] = col.name
			}
			c.pendingResult = newResult(names, c.rows, 0, 0)
			c.rows = nil
			c.phase = phaseIdle
			c.deadline = time.Time{}
			return 0, nil
		}
		row, perr := parseTextRow(pkt, c.columnCount)
		if perr != nil {
			return c.fail(perr)
		}
		c.rows = append(c.rows, row)
	}
}

func (c *netClient) NextResultStart() (WaitFlags, error) {
	if !c.moreResults {
		return c.fail(clientError(crUnknownError, "no more results"))
	}
	c.columnCount = 0
	c.columns = nil
	c.rows = nil
	c.pendingResult = nil
	c.moreResults = false
	c.phase = phaseResponseRead
	c.armDeadline()
	return c.progressCommand(WaitRead)
}

func (c *netClient) NextResultCont(ready WaitFlags) (WaitFlags, error) {
	return c.progressCommand(ready)
}

func (c *netClient) PingStart() (WaitFlags, error) {
	w, err := c.startCommand([]byte{comPing})
	if w == 0 && err == nil {
		c.TakeResult()
	}
	return w, err
}

func (c *netClient) PingCont(ready WaitFlags) (WaitFlags, error) {
	w, err := c.progressCommand(ready)
	if w == 0 && err == nil {
		c.TakeResult()
	}
	return w, err
}

// --- character set ---

func validCharsetName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_':
		default:
			return false
		}
	}
	return true
}

func (c *netClient) SetCharacterSetStart(name string) (WaitFlags, error) {
	if !validCharsetName(name) {
		return c.fail(clientError(crUnknownError, "invalid character set %q", name))
	}
	w, err := c.QueryStart("SET NAMES " + name)
	if w == 0 && err == nil {
		c.TakeResult()
	}
	return w, err
}

func (c *netClient) SetCharacterSetCont(ready WaitFlags) (WaitFlags, error) {
	w, err := c.QueryCont(ready)
	if w == 0 && err == nil {
		c.TakeResult()
	}
	return w, err
}

// --- escaping ---

// Escape escapes s for a single-quoted SQL literal. In
// NO_BACKSLASH_ESCAPES mode only single quotes are doubled; otherwise
// the standard backslash escape set applies.
func (c *netClient) Escape(s string) string {
	if c.status&statusNoBackslashEscapes != 0 {
		return escapeStringQuotes(s)
	}
	return escapeStringBackslash(s)
}

// escapeStringQuotes doubles single quotes, the only escape valid
// under NO_BACKSLASH_ESCAPES.
func escapeStringQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// escapeStringBackslash applies the standard escape set for
// single-quoted literals.
func escapeStringBackslash(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case 0:
			out.WriteString(`\0`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case 0x1a:
			out.WriteString(`\Z`)
		case '\'':
			out.WriteString(`\'`)
		case '"':
			out.WriteString(`\"`)
		case '\\':
			out.WriteString(`\\`)
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}
