package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paperlens/backend/internal/chat"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/pkg/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Ask questions about a paper",
	Long:  "Opens the paper (from history when possible) and answers questions grounded in it. Type 'exit' to quit.",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openFile(ctx, application.Sessions, args[0])
	if err != nil {
		return err
	}

	conv := chat.NewSession(application.Clients.Streaming, a, chat.WithLogger(logger.Named("chat")))
	fmt.Println(heading(a.Title))
	fmt.Println(conv.Welcome())
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(label("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "exit") {
			break
		}
		if input == "" {
			continue
		}

		fmt.Print(heading("Assistant: "))
		_, err := conv.Send(ctx, input, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, warn(llm.UserMessage(err)))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := application.Tracker.Increment(ctx, evaluation.ChatMessages); err != nil {
			logger.Debug("Failed to count chat message")
		}
		fmt.Println()
	}
	return nil
}
