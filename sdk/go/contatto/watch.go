package contatto

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Watch streams status changes from the bridge, starting with one snapshot
// change per device, and calls fn for each. It returns when ctx is done, the
// bridge closes the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, serial string, fn func(StatusChange) error) error {
	q := url.Values{}
	if serial != "" {
		q.Set("serial", serial)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/events", q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decode(resp, nil)
	}
	defer resp.Body.Close()

	events := newEventReader(resp.Body)
	for {
		name, data, err := events.next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if name != "status" {
			continue
		}
		var change StatusChange
		if err := json.Unmarshal([]byte(data), &change); err != nil {
			return fmt.Errorf("decode status event: %w", err)
		}
		if err := fn(change); err != nil {
			return err
		}
	}
}

type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// next returns the next complete event. Comment lines and ids are skipped.
func (e *eventReader) next() (string, string, error) {
	var name string
	var data []string
	for {
		line, err := e.r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				return name, strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
