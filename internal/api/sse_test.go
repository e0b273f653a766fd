package api

import (
	"bufio"
	"io"
	"strings"
)

type sseFrame struct {
	id    string
	event string
	data  string
}

// readSSE parses frames from r until it fails, then closes out.
func readSSE(r io.Reader, out chan<- sseFrame) {
	defer close(out)
	sc := bufio.NewScanner(r)
	var f sseFrame
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if f.id != "" || f.data != "" {
				out <- f
			}
			f = sseFrame{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}
