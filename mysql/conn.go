//go:build linux

package mysql

import (
	"time"

	"github.com/Ben1524/go-mysql-reactor/eventloop"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// ConnectStatus is the connection lifecycle state. Transitions to
// StatusBad are terminal.
type ConnectStatus int

const (
	StatusNone ConnectStatus = iota
	StatusConnecting
	StatusSettingCharacterSet
	StatusOK
	StatusBad
)

func (s ConnectStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusConnecting:
		return "Connecting"
	case StatusSettingCharacterSet:
		return "SettingCharacterSet"
	case StatusOK:
		return "Ok"
	case StatusBad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// execStatus is the query sub-state.
type execStatus int

const (
	execIdle execStatus = iota
	execRealQuery
	execStoreResult
	execNextResult
)

// defaultTimeout bounds connect, read, and write per operation.
const defaultTimeout = 10 * time.Second

// Callback types.
type (
	// ConnCallback receives the connection on success or close.
	ConnCallback func(*Connector)
	// ResultCallback receives each result set of a completed query.
	ResultCallback func(*Result)
	// ExceptionCallback receives a failed query's error (usually a
	// *Error carrying the server message and the rendered SQL).
	ExceptionCallback func(error)
)

// Connector drives one non-blocking database connection through an
// event loop: it owns a dispatcher on the client's socket, and every
// readiness callback advances a stage of the underlying client,
// reprogramming the dispatcher with the wait mask the client returns.
// All state lives on the loop goroutine; at most one query is in
// flight at a time.
type Connector struct {
	loop   *eventloop.EventLoop
	client Client
	params ConnParams

	status  ConnectStatus
	exec    execStatus
	waitFor WaitFlags

	dispatcher *eventloop.EventDispatcher

	sql string

	okCallback        ConnCallback
	closeCallback     ConnCallback
	idleCallback      func()
	resultCallback    ResultCallback
	exceptionCallback ExceptionCallback
	working           bool

	logger *logiface.Logger[logiface.Event]
}

// ConnectorOption configures a Connector.
type ConnectorOption interface {
	applyConnector(*Connector)
}

type connectorOptionImpl struct {
	applyConnectorFunc func(*Connector)
}

func (o *connectorOptionImpl) applyConnector(c *Connector) { o.applyConnectorFunc(c) }

// WithConnLogger attaches a structured logger to the connector.
func WithConnLogger(logger *logiface.Logger[logiface.Event]) ConnectorOption {
	return &connectorOptionImpl{func(c *Connector) { c.logger = logger }}
}

// withClient substitutes the wire client; used by tests.
func withClient(client Client) ConnectorOption {
	return &connectorOptionImpl{func(c *Connector) { c.client = client }}
}

// NewConnector parses connInfo (see ParseConnParams for the grammar)
// and prepares a connection that will run on loop. Nothing touches the
// network until Init.
func NewConnector(loop *eventloop.EventLoop, connInfo string, opts ...ConnectorOption) *Connector {
	c := &Connector{
		loop:   loop,
		params: ParseConnParams(connInfo),
		status: StatusNone,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyConnector(c)
		}
	}
	if c.client == nil {
		c.client = NewClient(c.params, defaultTimeout)
	}
	return c
}

// SetOKCallback registers the callback fired when the connection
// reaches Ok.
func (c *Connector) SetOKCallback(cb ConnCallback) { c.okCallback = cb }

// SetCloseCallback registers the callback fired when the connection
// transitions to Bad.
func (c *Connector) SetCloseCallback(cb ConnCallback) { c.closeCallback = cb }

// SetIdleCallback registers the callback fired whenever a query
// finishes and the connection is ready for the next one; a pool uses
// it to reclaim the connection.
func (c *Connector) SetIdleCallback(cb func()) { c.idleCallback = cb }

// Status returns the lifecycle state. Loop goroutine only.
func (c *Connector) Status() ConnectStatus { return c.status }

// IsIdle reports whether no query is in flight. Loop goroutine only.
func (c *Connector) IsIdle() bool { return !c.working && c.status == StatusOK }

// Loop returns the owning event loop.
func (c *Connector) Loop() *eventloop.EventLoop { return c.loop }

// Params returns the parsed connection parameters.
func (c *Connector) Params() ConnParams { return c.params }

// Init starts the connect, posted as a task to the loop.
func (c *Connector) Init() {
	c.loop.QueueInLoop(c.startConnect)
}

func (c *Connector) startConnect() {
	c.status = StatusConnecting
	c.logInfo("connecting", c.params.Host, c.params.DBName)

	wait, err := c.client.ConnectStart()
	if wait == 0 && err != nil {
		c.logError(err, "connect failed")
		c.status = StatusBad
		if c.closeCallback != nil {
			c.closeCallback(c)
		}
		return
	}
	fd := c.client.Socket()
	if fd < 0 {
		c.logError(nil, "no socket after connect start")
		c.status = StatusBad
		if c.closeCallback != nil {
			c.closeCallback(c)
		}
		return
	}
	c.waitFor = wait
	c.dispatcher = eventloop.NewEventDispatcher(c.loop, fd)
	c.dispatcher.SetEventCallback(c.handleEvent)
	c.dispatcher.Tie(func() bool { return c.status != StatusBad })
	if wait == 0 {
		// Completed within start; unusual, but handled.
		c.afterConnected()
		return
	}
	c.programDispatcher()
}

// programDispatcher applies the dispatcher-programming rule for the
// wait mask most recently returned by the client.
func (c *Connector) programDispatcher() {
	if c.waitFor&(WaitRead|WaitExcept) != 0 {
		if !c.dispatcher.IsReading() {
			c.dispatcher.EnableReading()
		}
	}
	if c.waitFor&WaitWrite != 0 {
		if !c.dispatcher.IsWriting() {
			c.dispatcher.EnableWriting()
		}
	} else if c.dispatcher.IsWriting() {
		c.dispatcher.DisableWriting()
	}
	if c.waitFor&WaitTimeout != 0 {
		c.loop.RunAfter(c.client.TimeoutValue(), c.handleTimeout)
	}
}

// handleEvent is the catch-all dispatcher callback: it translates raw
// readiness into the client's wait encoding, masks it with what the
// client asked for, and advances whatever stage is current.
func (c *Connector) handleEvent() {
	var ready WaitFlags
	revents := c.dispatcher.REvents()
	if revents&unix.EPOLLIN != 0 {
		ready |= WaitRead
	}
	if revents&unix.EPOLLOUT != 0 {
		ready |= WaitWrite
	}
	if revents&unix.EPOLLPRI != 0 {
		ready |= WaitExcept
	}
	ready &= c.waitFor

	switch c.status {
	case StatusConnecting:
		c.continueConnect(ready)
	case StatusSettingCharacterSet:
		c.continueSetCharacterSet(ready)
	case StatusOK:
		c.handleCmd(ready)
	}
}

// handleTimeout re-enters the state machine with the timeout bit set.
// The timer is one-shot and not cancelled on progress. In the Ok state
// a firing is only acted upon while a query is in flight and the client
// still waits on a timeout; during connect and character-set setup
// every firing continues the current operation with the timeout bit.
func (c *Connector) handleTimeout() {
	switch c.status {
	case StatusConnecting:
		c.continueConnect(WaitTimeout)
	case StatusSettingCharacterSet:
		c.continueSetCharacterSet(WaitTimeout)
	case StatusOK:
		if c.exec != execIdle && c.waitFor&WaitTimeout != 0 {
			c.handleCmd(WaitTimeout)
		}
	}
}

func (c *Connector) continueConnect(ready WaitFlags) {
	wait, err := c.client.ConnectCont(ready)
	c.waitFor = wait
	if wait == 0 {
		if err != nil {
			c.logError(err, "connect failed")
			c.handleClosed()
			return
		}
		c.afterConnected()
		return
	}
	c.programDispatcher()
}

// afterConnected runs once the wire handshake finished: start the
// character-set handshake when one is configured, otherwise go
// straight to Ok.
func (c *Connector) afterConnected() {
	if c.params.CharacterSet == "" {
		c.status = StatusOK
		if c.okCallback != nil {
			c.okCallback(c)
		}
		c.programDispatcher()
		return
	}
	c.startSetCharacterSet()
}

func (c *Connector) startSetCharacterSet() {
	wait, err := c.client.SetCharacterSetStart(c.params.CharacterSet)
	c.waitFor = wait
	if wait == 0 {
		if err != nil {
			c.logError(err, "set character set failed")
			c.handleClosed()
			return
		}
		c.status = StatusOK
		if c.okCallback != nil {
			c.okCallback(c)
		}
	} else {
		c.status = StatusSettingCharacterSet
	}
	c.programDispatcher()
}

func (c *Connector) continueSetCharacterSet(ready WaitFlags) {
	wait, err := c.client.SetCharacterSetCont(ready)
	c.waitFor = wait
	if wait == 0 {
		if err != nil {
			c.logError(err, "set character set failed")
			c.handleClosed()
			return
		}
		c.status = StatusOK
		if c.okCallback != nil {
			c.okCallback(c)
		}
	}
	c.programDispatcher()
}

// ExecSQL renders params into sql and executes it. The result callback
// receives every result set; the exception callback receives the error
// of a failed query. Safe from any goroutine. At most one query may be
// in flight: submitting while working is a contract violation.
func (c *Connector) ExecSQL(sql string, params []Param, rcb ResultCallback, ecb ExceptionCallback) {
	if c.loop.IsInLoopThread() {
		c.execSQLInLoop(sql, params, rcb, ecb)
		return
	}
	c.loop.QueueInLoop(func() {
		c.execSQLInLoop(sql, params, rcb, ecb)
	})
}

// ExecBatch is not supported by the text protocol client; invoking it
// is a contract violation.
func (c *Connector) ExecBatch() {
	panic(ErrBatchUnsupported)
}

func (c *Connector) execSQLInLoop(sql string, params []Param, rcb ResultCallback, ecb ExceptionCallback) {
	switch {
	case sql == "":
		panic("mysql: ExecSQL with empty SQL")
	case rcb == nil:
		panic("mysql: ExecSQL without result callback")
	case c.working:
		panic("mysql: ExecSQL while a query is in flight")
	case c.status == StatusBad:
		panic("mysql: ExecSQL on a bad connection")
	}

	c.resultCallback = rcb
	c.exceptionCallback = ecb
	c.working = true
	c.sql = renderSQL(sql, params, c.client.Escape)
	c.logDebug("executing", c.sql)
	c.startQuery()
	c.programDispatcher()
}

func (c *Connector) startQuery() {
	wait, err := c.client.QueryStart(c.sql)
	c.waitFor = wait
	c.exec = execRealQuery
	if wait == 0 {
		if err != nil {
			c.loop.QueueInLoop(c.outputError)
			return
		}
		c.startStoreResult(true)
	}
}

// handleCmd advances the query sub-state machine.
func (c *Connector) handleCmd(ready WaitFlags) {
	switch c.exec {
	case execRealQuery:
		wait, err := c.client.QueryCont(ready)
		c.waitFor = wait
		if wait == 0 {
			if err != nil {
				c.exec = execIdle
				c.outputError()
				return
			}
			c.startStoreResult(false)
		}
		c.programDispatcher()

	case execStoreResult:
		wait, err := c.client.StoreResultCont(ready)
		c.waitFor = wait
		if wait == 0 {
			if err != nil {
				c.exec = execIdle
				c.outputError()
				return
			}
			c.getResult()
		}
		c.programDispatcher()

	case execNextResult:
		wait, err := c.client.NextResultCont(ready)
		c.waitFor = wait
		if wait == 0 {
			if err != nil {
				c.exec = execIdle
				c.outputError()
				return
			}
			c.startStoreResult(false)
		}
		c.programDispatcher()

	case execIdle:
		// Readiness with nothing in flight means the peer closed.
		if c.waitFor == 0 {
			c.handleClosed()
		}
	}
}

func (c *Connector) startStoreResult(queued bool) {
	c.exec = execStoreResult
	wait, err := c.client.StoreResultStart()
	c.waitFor = wait
	if wait == 0 {
		c.exec = execIdle
		if err != nil {
			if queued {
				c.loop.QueueInLoop(c.outputError)
			} else {
				c.outputError()
			}
			return
		}
		if queued {
			c.loop.QueueInLoop(c.getResult)
		} else {
			c.getResult()
		}
	}
}

// getResult delivers the stored result and either iterates to the next
// result set or returns the connection to idle.
func (c *Connector) getResult() {
	res := c.client.TakeResult()
	if !c.working {
		return
	}
	c.resultCallback(res)
	if !c.client.MoreResults() {
		c.resultCallback = nil
		c.exceptionCallback = nil
		c.working = false
		if c.idleCallback != nil {
			c.idleCallback()
		}
		return
	}
	c.exec = execNextResult
	wait, err := c.client.NextResultStart()
	c.waitFor = wait
	if wait == 0 {
		if err != nil {
			c.exec = execIdle
			c.outputError()
			return
		}
		c.startStoreResult(false)
		return
	}
	c.programDispatcher()
}

// outputError reports the failed query to the exception callback and
// classifies the error: a gone/lost server turns the connection Bad,
// anything else leaves it usable and fires idle.
func (c *Connector) outputError() {
	c.dispatcher.DisableAll()
	err := c.client.LastError()
	if err == nil {
		err = clientError(crUnknownError, "unknown query error")
	}
	err = &Error{Code: err.Code, SQLState: err.SQLState, Message: err.Message, SQL: c.sql}
	c.logError(err, "query failed")
	if c.working {
		if c.exceptionCallback != nil {
			c.exceptionCallback(err)
		}
		c.exceptionCallback = nil
		c.resultCallback = nil
		c.working = false
		if !err.ServerGone() && c.idleCallback != nil {
			c.idleCallback()
		}
	}
	if err.ServerGone() {
		c.handleClosed()
	}
}

// handleClosed transitions to Bad, detaches the dispatcher, and fires
// the close callback. Terminal and idempotent.
func (c *Connector) handleClosed() {
	c.loop.AssertInLoopThread()
	if c.status == StatusBad {
		return
	}
	c.status = StatusBad
	if c.dispatcher != nil {
		c.dispatcher.DisableAll()
		c.dispatcher.Remove()
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

// Disconnect tears the connection down from any goroutine, blocking
// until the loop has released the dispatcher and the client.
func (c *Connector) Disconnect() {
	done := make(chan struct{})
	c.loop.RunInLoop(func() {
		c.status = StatusBad
		if c.dispatcher != nil {
			c.dispatcher.DisableAll()
			c.dispatcher.Remove()
		}
		_ = c.client.Close()
		close(done)
	})
	<-done
}

// Ping checks liveness over COM_PING; cb receives nil on success or
// the failure. Only valid on an idle Ok connection.
func (c *Connector) Ping(cb func(error)) {
	c.loop.RunInLoop(func() {
		if c.status != StatusOK || c.working {
			cb(clientError(crUnknownError, "connection not idle"))
			return
		}
		wait, err := c.client.PingStart()
		c.waitFor = wait
		if wait == 0 {
			cb(err)
			return
		}
		// Ride the normal event path: deliver the verdict by swapping
		// in a transient result pipeline.
		c.working = true
		c.resultCallback = func(*Result) {
			c.working = false
			c.resultCallback = nil
			c.exceptionCallback = nil
			cb(nil)
		}
		c.exceptionCallback = func(err error) { cb(err) }
		c.exec = execRealQuery
		c.programDispatcher()
	})
}

func (c *Connector) logInfo(msg, host, dbname string) {
	c.logger.Info().
		Str("host", host).
		Str("dbname", dbname).
		Log(msg)
}

func (c *Connector) logDebug(msg, sql string) {
	c.logger.Debug().
		Str("sql", sql).
		Log(msg)
}

func (c *Connector) logError(err error, msg string) {
	c.logger.Err().
		Err(err).
		Log(msg)
}
