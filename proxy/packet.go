// File: proxy/packet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP response packets: formatting replies for peers and relaying peer
// replies to HTTP clients.

package proxy

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// Packet is a plain-text HTTP/1.1 response in wire form.
type Packet struct {
	Status  int
	Headers []string
	Content string
}

// NewPacket returns a text/plain packet with the given status.
func NewPacket(status int) *Packet {
	return &Packet{Status: status, Headers: []string{"Content-Type: text/plain"}}
}

// AddHeader appends a raw "Name: value" header line.
func (p *Packet) AddHeader(h string) *Packet {
	p.Headers = append(p.Headers, h)
	return p
}

// Export renders the packet. withLength adds Content-Length for a non-empty
// body.
func (p *Packet) Export(withLength bool) string {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(strconv.Itoa(p.Status))
	sb.WriteByte(' ')
	sb.WriteString(statusText(p.Status))
	sb.WriteString(crlf)
	for _, h := range p.Headers {
		sb.WriteString(h)
		sb.WriteString(crlf)
	}
	if withLength && len(p.Content) > 0 {
		sb.WriteString("Content-Length: ")
		sb.WriteString(strconv.Itoa(len(p.Content)))
		sb.WriteString(crlf)
	}
	sb.WriteString(crlf)
	sb.WriteString(p.Content)
	return sb.String()
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Status"
}

// hopHeaders are connection-scoped and never relayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// writeReply relays a peer reply. A reply that parses as a complete HTTP
// response is relayed with its status, headers and body; any other text is
// sent as a 200 text/plain body.
func writeReply(w http.ResponseWriter, reply string) {
	if strings.HasPrefix(reply, "HTTP/1.") {
		resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(reply)), nil)
		if err == nil {
			defer resp.Body.Close()
			for _, h := range hopHeaders {
				resp.Header.Del(h)
			}
			for k, vv := range resp.Header {
				for _, v := range vv {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			_, _ = io.Copy(w, resp.Body)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(reply)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reply)
}
