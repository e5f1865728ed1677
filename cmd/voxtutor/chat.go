package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/client"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

func newChatCmd() *cobra.Command {
	return clientCommand("chat", "Text chat with the tutor", func(cmd *cobra.Command, cfg *config.Config) error {
		c, err := client.NewChatClient(cfg.Client.ServerURL,
			client.WithBreaker(client.NewBreaker(cfg.Client.CircuitBreaker)),
		)
		if err != nil {
			return err
		}
		history := session.NewChatContext()
		conv := cfg.Conversation

		fmt.Printf("Chatting with the %s tutor. /reset clears the history, Ctrl+D quits.\n", conv.Role())
		sc := bufio.NewScanner(os.Stdin)
		for fmt.Print("> "); sc.Scan(); fmt.Print("> ") {
			text := strings.TrimSpace(sc.Text())
			switch text {
			case "":
				continue
			case "/reset":
				history.Reset()
				continue
			}

			history.Append(llm.Message{Role: "user", Content: text})
			resp, err := c.Complete(cmd.Context(), api.ChatRequest{
				Messages:    history.Messages(),
				Model:       conv.Model,
				Temperature: conv.Temperature,
				TutorRole:   string(conv.Role()),
			})
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				fmt.Printf("! %v\n", err)
				msgs := history.Messages()
				history.Replace(msgs[:len(msgs)-1])
				continue
			}
			history.Append(llm.Message{Role: "assistant", Content: resp.Content})

			doc := writing.Parse(resp.Content)
			fmt.Println(doc.Speakable)
			printWriting(doc.Instructions)
		}
		return sc.Err()
	})
}
