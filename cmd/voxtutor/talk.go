package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxtutor/internal/app"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/orchestrator"
	"github.com/MrWong99/voxtutor/internal/voicemode"
)

const talkHelp = `Enter  start / stop recording
x      cancel the current turn
a      toggle auto-conversation
q      quit`

func newTalkCmd() *cobra.Command {
	return clientCommand("talk", "Push-to-talk conversation with the tutor", func(cmd *cobra.Command, cfg *config.Config) error {
		fmt.Println(talkHelp)
		return runLocal(cmd.Context(), cfg, "talk", talkLine,
			app.WithOrchestratorOptions(
				orchestrator.OnState(func(s orchestrator.State) { fmt.Printf("· %s\n", s) }),
				orchestrator.OnTurn(func(t orchestrator.Turn) {
					fmt.Printf("you:   %s\ntutor: %s\n", t.Transcript, t.Speakable)
				}),
				orchestrator.OnWriting(printWriting),
				orchestrator.OnError(printVoiceError),
			),
		)
	})
}

func talkLine(ctx context.Context, c *app.Client, line string) bool {
	conv := c.Conversation()
	switch line {
	case "":
		if _, ok := conv.State().(orchestrator.Recording); ok {
			conv.Stop()
			return true
		}
		if err := conv.Start(ctx); err != nil && !errors.Is(err, orchestrator.ErrTurnInFlight) {
			fmt.Printf("! %v\n", err)
		}
	case "x":
		conv.Cancel()
	case "a":
		on := !conv.AutoConversation()
		conv.SetAutoConversation(on)
		fmt.Printf("· auto-conversation %v\n", on)
	case "q":
		return false
	default:
		fmt.Println(talkHelp)
	}
	return true
}

const listenHelp = `Enter  toggle voice mode
q      quit`

func newListenCmd() *cobra.Command {
	return clientCommand("listen", "Hands-free voice mode with the tutor", func(cmd *cobra.Command, cfg *config.Config) error {
		fmt.Println(listenHelp)
		return runLocal(cmd.Context(), cfg, "listen", listenLine,
			app.WithVoiceModeOptions(
				voicemode.OnTranscript(func(text string, final bool) {
					if final {
						fmt.Printf("you:   %s\n", text)
					}
				}),
				voicemode.OnReply(func(r voicemode.Reply) { fmt.Printf("tutor: %s\n", r.Speakable) }),
				voicemode.OnWriting(printWriting),
				voicemode.OnError(printVoiceError),
				voicemode.OnEnabledChange(func(on bool) { fmt.Printf("· voice mode %v\n", on) }),
			),
		)
	})
}

func listenLine(_ context.Context, c *app.Client, line string) bool {
	vm := c.VoiceMode()
	switch line {
	case "":
		if vm.Enabled() {
			vm.Disable()
		} else if !vm.Enable() {
			fmt.Println("! voice mode is not available")
		}
	case "q":
		return false
	default:
		fmt.Println(listenHelp)
	}
	return true
}
