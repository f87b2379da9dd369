// Package clearnode implements an authenticated RPC client for a ClearNode.
//
// A Client owns one WebSocket connection at a time. Connect opens it, runs
// the authentication handshake and returns once the node has accepted the
// session. Application requests are signed with the wallet, multiplexed over
// the shared connection and matched to their responses by request id.
// Unexpected closes are retried with bounded exponential backoff.
//
// All connection, handshake and correlation state is owned by a single event
// loop goroutine. Observer callbacks run on that goroutine and must not call
// blocking Client methods such as Connect or SendRequest.
//
// Basic usage:
//
//	wallet, _ := signer.NewWallet(os.Getenv("PRIVATE_KEY"))
//	client, err := clearnode.New(clearnode.DefaultConfig("wss://clearnet.example.com/ws"), wallet)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	channels, err := client.GetChannels(ctx)
package clearnode
