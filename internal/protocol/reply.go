package protocol

import (
	"strings"

	"github.com/tidwall/redcon"
)

// WriteReply renders a command reply: "+..." as a status, "-..." as an
// error, multi-line text as a bulk string and anything else (JSON) as a
// status line.
func WriteReply(conn redcon.Conn, reply string) {
	switch {
	case strings.HasPrefix(reply, "+"):
		conn.WriteString(reply[1:])
	case strings.HasPrefix(reply, "-"):
		conn.WriteError(reply[1:])
	case strings.ContainsAny(reply, "\r\n"):
		conn.WriteBulkString(reply)
	default:
		conn.WriteString(reply)
	}
}
