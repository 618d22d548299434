package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

var decodeFrames bool

var decodeCmd = &cobra.Command{
	Use:   "decode <capture-file>",
	Short: "Decode a captured Kiro event stream",
	Long: `Decode a captured binary event stream and print one JSON object per line.

Use "-" to read from stdin.

Examples:
  kirogw decode response.bin
  kirogw decode --frames response.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeFrames, "frames", false, "Print raw frames (headers and payload) instead of events")
}

func runDecode(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		defer f.Close()
		in = f
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	dec := eventstream.NewDecoder(in)
	if decodeFrames {
		for {
			f, err := dec.ReadFrame()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("at byte %d: %w", dec.Offset(), err)
			}
			if err := out.Encode(frameLine(f)); err != nil {
				return err
			}
		}
	}
	for ev, err := range dec.All() {
		if err != nil {
			return fmt.Errorf("at byte %d: %w", dec.Offset(), err)
		}
		if err := out.Encode(eventLine(ev)); err != nil {
			return err
		}
	}
	return nil
}

func frameLine(f *eventstream.Frame) map[string]any {
	headers := make(map[string]any, len(f.Headers))
	for _, h := range f.Headers {
		if h.Type == eventstream.HeaderString {
			headers[h.Name] = string(h.Value)
		} else {
			headers[h.Name] = h.Value
		}
	}
	return map[string]any{"headers": headers, "payload": string(f.Payload)}
}

func eventLine(ev eventstream.Event) map[string]any {
	switch e := ev.(type) {
	case eventstream.TextDelta:
		return map[string]any{"event": "text", "text": e.Text}
	case eventstream.ToolUseStart:
		return map[string]any{"event": "tool_start", "id": e.ID, "name": e.Name}
	case eventstream.ToolUseInputDelta:
		return map[string]any{"event": "tool_input", "id": e.ID, "fragment": e.Fragment}
	case eventstream.ToolUseEnd:
		return map[string]any{"event": "tool_end", "id": e.ID}
	case eventstream.MessageStop:
		return map[string]any{"event": "stop", "reason": e.Reason}
	case eventstream.ErrorEvent:
		return map[string]any{"event": "error", "kind": e.Kind, "message": e.Message}
	case eventstream.Usage:
		return map[string]any{"event": "usage", "credits": e.Credits, "context_percent": e.ContextPercent}
	case eventstream.Unknown:
		return map[string]any{"event": "unknown", "type": e.Type, "payload": string(e.Payload)}
	default:
		return map[string]any{"event": fmt.Sprintf("%T", ev)}
	}
}
