// Package ssl is a TLS client connection manager.
//
// A Library owns the shared state: a bounded, reference counted session
// cache and a fixed number of connection slots. Contexts carry the TLS
// policy and trust store. A Connection goes through
//
//	Create -> SetSocketDescriptor (or SetSocket) -> setters -> DoHandshake
//	-> Read/Write/Peek/Poll -> Destroy
//
// and reports every failure as a coded *result.Error. Connections run in
// blocking mode, bounded by the library's I/O ceiling, or in non-blocking
// mode, where operations return result.ErrIoWouldBlock and Poll waits for
// readiness.
//
//	lib := ssl.NewLibrary(nil, nil)
//	if err := lib.Initialize(); err != nil { ... }
//	defer lib.Finalize()
//
//	ctx, _ := ssl.NewContext(lib, ssl.ContextOptions{})
//	var conn ssl.Connection
//	_ = conn.Create(ctx)
//	_ = conn.SetSocketDescriptor(fd)
//	_ = conn.SetHostName("example.com")
//	if err := conn.DoHandshake(); err != nil { ... }
package ssl
