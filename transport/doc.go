// Package transport provides the byte-stream transports a devdisp session
// runs over.
//
// A Transport delivers whole protocol frames in order. Handlers are
// registered per message type and are invoked sequentially from a single
// reader goroutine, so handling one message always runs to completion
// before the next is delivered.
//
// Two implementations exist:
//
//   - WebSocketTransport carries each frame as one binary WebSocket
//     message (the network path).
//   - StreamTransport carries frames as [length u32 BE][frame] over any
//     io.ReadWriteCloser (the USB accessory channel, and net.Pipe in
//     tests).
//
// Example:
//
//	tr, err := transport.DialWebSocket("ws://192.168.1.20:9867")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tr.RegisterHandler(protocol.MessageScreenData, onScreenData)
//	tr.OnClose(func(err error) { ... })
//	tr.Start()
package transport
