package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/oai"
	"github.com/erikhoward/kirogw/providers/kiro"
	"github.com/erikhoward/kirogw/telemetry"
)

var (
	chatModel     string
	chatSystem    string
	chatMaxTokens int
	chatJSON      bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a single chat request",
	Long: `Send one prompt and print the reply. Without arguments the prompt is read from stdin.

On a terminal the reply is streamed as text; otherwise the aggregated response is
printed as an OpenAI chat completion JSON object.

Examples:
  kirogw chat "Explain event streams"
  echo "hello" | kirogw chat --model claude-haiku-4.5 > reply.json`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatModel, "model", string(kiro.ModelClaudeSonnet45), "Model name")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "Maximum completion tokens")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print JSON even on a terminal")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	tel := telemetry.NewLogrus(log)
	provider, err := cfg.Provider(tel)
	if err != nil {
		return err
	}
	client := core.NewClient(provider, core.WithTelemetry(tel))
	b := client.Chat(core.ModelID(chatModel))
	if chatSystem != "" {
		b.System(chatSystem)
	}
	b.User(prompt)
	if chatMaxTokens > 0 {
		b.MaxTokens(chatMaxTokens)
	}

	out := cmd.OutOrStdout()
	if !chatJSON && isTerminal(out) {
		stream, err := b.Stream(cmd.Context())
		if err != nil {
			return err
		}
		return printStream(out, stream)
	}
	resp, err := b.GetResponse(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(out, oai.RenderResponse(resp, 0))
}

func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printStream writes text deltas as they arrive and tool calls on their own lines.
func printStream(w io.Writer, stream *core.ChatStream) error {
	for chunk := range stream.Ch {
		if chunk.Delta != "" {
			fmt.Fprint(w, chunk.Delta)
		}
		for _, tc := range chunk.ToolCalls {
			fmt.Fprintf(w, "\n[tool call] %s(%s)\n", tc.Name, tc.Arguments)
		}
	}
	fmt.Fprintln(w)
	if err, ok := <-stream.Err; ok && err != nil {
		return err
	}
	if final, ok := <-stream.Final; ok && final != nil {
		fmt.Fprintf(w, "(%d prompt + %d completion tokens, finish: %s)\n",
			final.Usage.PromptTokens, final.Usage.CompletionTokens, final.FinishReason)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
