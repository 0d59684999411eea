package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/daemon"
)

func readFileB64(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id '%s'", s)
	}
	return id, nil
}

func listEntities(entityType string) error {
	raw, err := send(daemon.ActionListEntities, daemon.ListEntitiesArgs{EntityType: entityType})
	if err != nil {
		return err
	}
	var reply daemon.ListEntitiesReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Status != daemon.StatusSuccess {
		var e daemon.Reply
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("%s", e.Message)
	}
	if len(reply.Data) == 0 {
		fmt.Println("(none)")
		return nil
	}
	for _, ref := range reply.Data {
		fmt.Printf("%6d  %s\n", ref.ID, ref.Name)
	}
	return nil
}

func removeEntity(entityType, idArg string) error {
	id, err := parseID(idArg)
	if err != nil {
		return err
	}
	return call(daemon.ActionRemoveEntity, daemon.RemoveEntityArgs{EntityType: entityType, ID: id})
}

// avatar

var avatarCmd = &cobra.Command{Use: "avatar", Short: "Manage avatars"}

var (
	avatarName  string
	avatarPhoto string
	avatarInfo  string
)

var avatarAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an avatar (photo file + info text)",
	RunE: func(cmd *cobra.Command, args []string) error {
		photo, err := readFileB64(avatarPhoto)
		if err != nil {
			return err
		}
		return call(daemon.ActionCreateEntity, daemon.CreateEntityArgs{
			EntityType:   "avatar",
			Name:         avatarName,
			PhotoDataB64: photo,
			InfoData:     avatarInfo,
		})
	},
}

var avatarUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an avatar; running sessions restart with the new data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		upd := daemon.UpdateEntityArgs{EntityType: "avatar", ID: id}
		if cmd.Flags().Changed("name") {
			upd.Name = &avatarName
		}
		if cmd.Flags().Changed("photo") {
			photo, err := readFileB64(avatarPhoto)
			if err != nil {
				return err
			}
			upd.PhotoDataB64 = &photo
		}
		if cmd.Flags().Changed("info") {
			upd.InfoData = &avatarInfo
		}
		return call(daemon.ActionUpdateEntity, upd)
	},
}

var avatarRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an avatar and all its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeEntity("avatar", args[0])
	},
}

var avatarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List avatars",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listEntities("avatar")
	},
}

// ic

var icCmd = &cobra.Command{Use: "ic", Short: "Manage information copies"}

var (
	icName string
	icWav  string
)

var icAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an information copy (wav file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		wav, err := readFileB64(icWav)
		if err != nil {
			return err
		}
		return call(daemon.ActionCreateEntity, daemon.CreateEntityArgs{
			EntityType: "ic",
			Name:       icName,
			WavDataB64: wav,
		})
	},
}

var icUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an information copy; running sessions restart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		upd := daemon.UpdateEntityArgs{EntityType: "ic", ID: id}
		if cmd.Flags().Changed("name") {
			upd.Name = &icName
		}
		if cmd.Flags().Changed("wav") {
			wav, err := readFileB64(icWav)
			if err != nil {
				return err
			}
			upd.WavDataB64 = &wav
		}
		return call(daemon.ActionUpdateEntity, upd)
	},
}

var icRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an information copy and all its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeEntity("ic", args[0])
	},
}

var icListCmd = &cobra.Command{
	Use:   "list",
	Short: "List information copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listEntities("ic")
	},
}

// request

var requestCmd = &cobra.Command{Use: "request", Short: "Manage requests"}

var (
	requestName string
	requestText string
)

var requestAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a request (text)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionCreateEntity, daemon.CreateEntityArgs{
			EntityType:  "request",
			Name:        requestName,
			RequestData: requestText,
		})
	},
}

var requestUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a request; running sessions restart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		upd := daemon.UpdateEntityArgs{EntityType: "request", ID: id}
		if cmd.Flags().Changed("name") {
			upd.Name = &requestName
		}
		if cmd.Flags().Changed("text") {
			upd.RequestData = &requestText
		}
		return call(daemon.ActionUpdateEntity, upd)
	},
}

var requestRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a request and all its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeEntity("request", args[0])
	},
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listEntities("request")
	},
}

func init() {
	avatarAddCmd.Flags().StringVar(&avatarName, "name", "", "avatar name")
	avatarAddCmd.Flags().StringVar(&avatarPhoto, "photo", "", "path to the photo file")
	avatarAddCmd.Flags().StringVar(&avatarInfo, "info", "", "info text")
	avatarAddCmd.MarkFlagRequired("name")
	avatarAddCmd.MarkFlagRequired("photo")
	avatarUpdateCmd.Flags().StringVar(&avatarName, "name", "", "new name")
	avatarUpdateCmd.Flags().StringVar(&avatarPhoto, "photo", "", "path to the new photo file")
	avatarUpdateCmd.Flags().StringVar(&avatarInfo, "info", "", "new info text")
	avatarCmd.AddCommand(avatarAddCmd, avatarUpdateCmd, avatarRemoveCmd, avatarListCmd)

	icAddCmd.Flags().StringVar(&icName, "name", "", "information copy name")
	icAddCmd.Flags().StringVar(&icWav, "wav", "", "path to the wav file")
	icAddCmd.MarkFlagRequired("name")
	icAddCmd.MarkFlagRequired("wav")
	icUpdateCmd.Flags().StringVar(&icName, "name", "", "new name")
	icUpdateCmd.Flags().StringVar(&icWav, "wav", "", "path to the new wav file")
	icCmd.AddCommand(icAddCmd, icUpdateCmd, icRemoveCmd, icListCmd)

	requestAddCmd.Flags().StringVar(&requestName, "name", "", "request name")
	requestAddCmd.Flags().StringVar(&requestText, "text", "", "request text")
	requestAddCmd.MarkFlagRequired("name")
	requestUpdateCmd.Flags().StringVar(&requestName, "name", "", "new name")
	requestUpdateCmd.Flags().StringVar(&requestText, "text", "", "new request text")
	requestCmd.AddCommand(requestAddCmd, requestUpdateCmd, requestRemoveCmd, requestListCmd)

	rootCmd.AddCommand(avatarCmd, icCmd, requestCmd)
}
