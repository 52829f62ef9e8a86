package cli

import (
	"bufio"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"emotion-client/internal/domain"
	"emotion-client/internal/infrastructure/streaming"
)

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Текстовый чат с бэкендом: одна строка - одно сообщение",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := newPrinter(app.Out)
			client := streaming.NewChatClient(app.Logger.WithComponent("chat"), func(message domain.ChatMessage) {
				// Свои сообщения пользователь уже видит в терминале
				if message.Side == domain.ChatSideLeft {
					out.chat(message)
				}
			})
			if err := client.Connect(ctx, app.Config().ChatSocketURL()); err != nil {
				return err
			}
			defer client.Close()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(app.In)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					text := strings.TrimSpace(line)
					if text == "" {
						continue
					}
					if err := client.Send(text); err != nil {
						return err
					}
				}
			}
		},
	}
}
