package websocket

// Delegate receives connection events. All methods are called from the
// connection's event loop goroutine, one at a time.
//
// Embed NopDelegate to implement only the events you care about.
type Delegate interface {
	OnOpen()
	OnClose(code CloseCode, reason string)
	OnText(text string)
	// Binary messages that are not file transfers.
	OnBinary(data []byte)
	// A received file has been completely written to path.
	OnFile(path string)
	// Called once per failed connection, and for a close acknowledgement timeout.
	OnError(err error)
}

type NopDelegate struct{}

func (NopDelegate) OnOpen() {}
func (NopDelegate) OnClose(CloseCode, string) {}
func (NopDelegate) OnText(string) {}
func (NopDelegate) OnBinary([]byte) {}
func (NopDelegate) OnFile(string) {}
func (NopDelegate) OnError(error) {}
