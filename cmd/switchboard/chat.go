package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/newthinker/switchboard/internal/app"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/newthinker/switchboard/internal/render"
	"github.com/spf13/cobra"
)

var (
	chatModel       string
	chatSystem      string
	chatMaxTokens   int
	chatTemperature float64
	chatJSON        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send one prompt through the provider chain",
	Long: `Send one prompt to the highest priority provider, failing over down the
chain on any error. With no argument, or "-", the prompt is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model override for every provider")
	chatCmd.Flags().StringVarP(&chatSystem, "system", "s", "", "system prompt")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "maximum output tokens")
	chatCmd.Flags().Float64VarP(&chatTemperature, "temperature", "t", 0, "sampling temperature")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "ask providers for a JSON response")
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", core.WrapError(core.ErrInvalidRequest, fmt.Errorf("empty prompt"))
	}
	return prompt, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, os.Stdin)
	if err != nil {
		return err
	}

	req := llm.ChatRequest{
		SystemPrompt: chatSystem,
		Messages:     []llm.Message{{Role: core.RoleUser, Content: prompt}},
		Model:        chatModel,
		MaxTokens:    chatMaxTokens,
		Temperature:  chatTemperature,
		JSONMode:     chatJSON,
	}

	return withApp(cmd, func(a *app.App, out *render.Renderer) error {
		res, err := a.Chat(cmd.Context(), req)
		if err != nil {
			render.New(cmd.ErrOrStderr(), render.FormatTable).Failure(err)
			return err
		}
		return out.Result(res)
	})
}
