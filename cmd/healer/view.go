package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/daemon"
)

var viewCmd = &cobra.Command{
	Use:   "view <avatar-id-or-name>",
	Short: "Show the sessions running on an avatar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := send(daemon.ActionViewRunningOn, daemon.ViewArgs{AvatarIdentifier: args[0]})
		if err != nil {
			return err
		}
		var reply daemon.ViewReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return fmt.Errorf("decoding reply: %w", err)
		}
		if reply.Status != daemon.StatusSuccess {
			var e daemon.Reply
			_ = json.Unmarshal(raw, &e)
			return fmt.Errorf("%s", e.Message)
		}

		fmt.Printf("Sessions running on '%s' (avatar %d):\n", reply.AvatarName, reply.AvatarID)
		if len(reply.Data) == 0 {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(renderViewTable(reply.Data))
		return nil
	},
}

func renderViewTable(rows []daemon.ViewRow) string {
	plain := termenv.EnvColorProfile() == termenv.Ascii

	headerStyle := lipgloss.NewStyle().Bold(true)
	if plain {
		headerStyle = lipgloss.NewStyle()
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "TYPE", "TARGET", "DURATION")

	for _, row := range rows {
		duration := "forever"
		if row.DurationMinutes != nil {
			duration = strconv.Itoa(*row.DurationMinutes) + "m"
		}
		t.Row(strconv.FormatInt(row.SessionID, 10), row.Type, row.Target, duration)
	}
	return t.Render()
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
