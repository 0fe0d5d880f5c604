package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"avl-gateway/internal/registry"
)

// NoResponse is the parsed_data marker for a command the device never answered.
const NoResponse = "no response"

// ControlRequest is a command request: {id, command}.
type ControlRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

func (r ControlRequest) validate() error {
	if r.ID == "" || r.Command == "" {
		return fmt.Errorf("%w: id and command are required", ErrBadRequest)
	}
	return nil
}

// ParseControlRequest reads a control request sent over the device port:
// "POST /send-data?id=..&command=.. HTTP/1.1" with the parameters in the
// query, or in a JSON body after the header block.
func ParseControlRequest(frame []byte) (ControlRequest, error) {
	line, rest, _ := bytes.Cut(frame, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 || fields[0] != http.MethodPost {
		return ControlRequest{}, fmt.Errorf("%w: request line %q", ErrBadRequest, line)
	}
	u, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return ControlRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	req := ControlRequest{ID: u.Query().Get("id"), Command: u.Query().Get("command")}
	if req.ID == "" || req.Command == "" {
		if _, body, ok := bytes.Cut(rest, []byte("\r\n\r\n")); ok && len(bytes.TrimSpace(body)) > 0 {
			var fromBody ControlRequest
			if err := json.Unmarshal(body, &fromBody); err != nil {
				return ControlRequest{}, fmt.Errorf("%w: body: %v", ErrBadRequest, err)
			}
			if req.ID == "" {
				req.ID = fromBody.ID
			}
			if req.Command == "" {
				req.Command = fromBody.Command
			}
		}
	}
	return req, req.validate()
}

// DecodeControlBody reads a JSON {id, command} body, letting query values win.
func DecodeControlBody(r io.Reader, query url.Values) (ControlRequest, error) {
	req := ControlRequest{ID: query.Get("id"), Command: query.Get("command")}
	if req.ID != "" && req.Command != "" {
		return req, nil
	}
	var body ControlRequest
	if err := json.NewDecoder(r).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return ControlRequest{}, fmt.Errorf("%w: body: %v", ErrBadRequest, err)
	}
	if req.ID == "" {
		req.ID = body.ID
	}
	if req.Command == "" {
		req.Command = body.Command
	}
	return req, req.validate()
}

type Response struct {
	DeviceID   string            `json:"device_id"`
	Command    string            `json:"command"`
	ParsedData any               `json:"parsed_data"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	DeviceID string `json:"device_id,omitempty"`
}

func NewResponse(res Result) Response {
	out := Response{DeviceID: res.DeviceID, Command: res.Command, ParsedData: NoResponse}
	if !res.NoResponse && res.Reply != nil {
		out.ParsedData = res.Reply
		out.Fields = ParseFields(res.Reply.Text)
	}
	return out
}

// StatusFor maps a dispatch error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, registry.ErrDeviceNotConnected):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Handle runs a control request end to end and returns the status and body to send.
func (c *Correlator) Handle(ctx context.Context, req ControlRequest) (int, any) {
	res, err := c.Dispatch(ctx, req.ID, req.Command)
	if err != nil {
		return StatusFor(err), ErrorResponse{Error: err.Error(), DeviceID: req.ID}
	}
	return http.StatusOK, NewResponse(res)
}

// WriteHTTPResponse writes status and a JSON body as an HTTP/1.1 response.
func WriteHTTPResponse(w io.Writer, status int, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	buf.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(b))
	buf.Write(b)
	_, err = w.Write(buf.Bytes())
	return err
}
