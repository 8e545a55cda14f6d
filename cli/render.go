package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/richinex/relay/agent"
)

var (
	dim     = color.New(color.FgHiBlack)
	prompt  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
)

// streamLine is one decoded NDJSON frame.
type streamLine struct {
	Event agent.StreamMode `json:"event"`
	Node  string           `json:"node"`
	Data  json.RawMessage  `json:"data"`
	Error string           `json:"error"`
}

// renderStream prints message chunks as they arrive and, when verbose, a
// marker per node update. It returns the generated text.
func renderStream(r io.Reader, out io.Writer, verbose bool) (string, error) {
	var text []byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var line streamLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return string(text), fmt.Errorf("decode stream: %w", err)
		}
		switch line.Event {
		case agent.StreamMessages:
			var chunk agent.MessageChunk
			if err := json.Unmarshal(line.Data, &chunk); err != nil {
				return string(text), fmt.Errorf("decode chunk: %w", err)
			}
			text = append(text, chunk.Content...)
			fmt.Fprint(out, chunk.Content)
		case agent.StreamUpdates:
			if verbose {
				fmt.Fprintln(out, dim.Sprintf("[%s]", line.Node))
			}
		case agent.StreamError:
			fmt.Fprintln(out, failure.Sprintf("\nError: %s", line.Error))
		}
	}
	return string(text), sc.Err()
}
