// Package client provides the REST side of the chat core.
//
// # Basic Usage
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//	page, err := c.FetchMessages(ctx, sessionID, 50, 0)
//
// Create a new session:
//
//	id, err := c.CreateSession(ctx, client.CreateSessionRequest{
//	    Message:    "Plan the Q3 milestones",
//	    WorkingDir: "/path/to/project",
//	})
//
// # WebSocket endpoints
//
// The client does not open sockets itself. It implements the ticket source
// of internal/channel and builds the endpoint URLs:
//
//	ch := channel.New(channel.Options{
//	    Endpoint: c.SessionSocketURL,
//	    Header:   c.Header(),
//	    Tickets:  c,
//	})
//
// # Errors
//
// Non-2xx responses are returned as *StatusError. A 404 matches ErrNotFound
// with errors.Is.
package client
