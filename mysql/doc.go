// Package mysql provides a non-blocking MySQL client driven by an
// eventloop.EventLoop.
//
// The low-level [Client] exposes every protocol operation as a
// Start/Cont pair returning a wait mask ([WaitFlags]) that names what
// the client needs to make progress (readable, writable, exceptional
// condition, or a timeout). A zero mask means the operation completed.
// [NewConnector] wires a client to an event loop: the connector owns a
// dispatcher on the client's socket and advances the connection state
// machine (connect, optional character-set setup, query execution,
// multi-result iteration) from readiness callbacks, never blocking the
// loop.
//
// Because the text protocol has no non-blocking prepared-statement
// path, positional parameters are rendered into the SQL string;
// strings are escaped through the connection's escape function against
// the active character-set mode. See [Connector.ExecSQL].
package mysql
