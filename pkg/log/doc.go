// Package log records a machine-readable trace of ClearNode protocol traffic.
//
// It is separate from operational logging (slog). A trace captures every
// frame, decoded message, state transition and error of a connection so that
// a session can be replayed and inspected with the clearnode-log tool.
//
//	// Console while developing
//	client := clearnode.New(cfg, wallet,
//	    clearnode.WithProtocolLogger(log.NewSlogAdapter(slog.Default())))
//
//	// File and console
//	file, _ := log.NewFileLogger("session.clog")
//	trace := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), file)
//
// Events are CBOR-encoded with integer keys and appended to .clog files.
package log
