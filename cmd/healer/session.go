package main

import (
	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/daemon"
)

var (
	startAvatarID    int64
	startAvatarGroup string
	startDuration    int
)

// durationArg maps --duration 0 (the default) to "run forever".
func durationArg(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("duration") {
		return nil
	}
	d := startDuration
	return &d
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&startAvatarID, "avatar", 0, "target avatar id")
	cmd.Flags().StringVar(&startAvatarGroup, "avatar-group", "", "target avatar group name")
	cmd.Flags().IntVar(&startDuration, "duration", 0, "session duration in minutes (omit to run forever)")
}

func avatarTarget(cmd *cobra.Command) (*int64, string) {
	if cmd.Flags().Changed("avatar") {
		id := startAvatarID
		return &id, startAvatarGroup
	}
	return nil, startAvatarGroup
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start sessions",
}

var startICCmd = &cobra.Command{
	Use:   "ic <ic-id>",
	Short: "Start an information copy on an avatar or avatar group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		icID, err := parseID(args[0])
		if err != nil {
			return err
		}
		avatarID, avatarGroup := avatarTarget(cmd)
		return call(daemon.ActionStartIC, daemon.StartICArgs{
			ICID:        icID,
			AvatarID:    avatarID,
			AvatarGroup: avatarGroup,
			Duration:    durationArg(cmd),
		})
	},
}

var (
	startRequestID    int64
	startRequestGroup string
)

var startRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Start a request or request group on an avatar or avatar group",
	RunE: func(cmd *cobra.Command, args []string) error {
		avatarID, avatarGroup := avatarTarget(cmd)
		sra := daemon.StartRequestArgs{
			AvatarID:     avatarID,
			AvatarGroup:  avatarGroup,
			RequestGroup: startRequestGroup,
			Duration:     durationArg(cmd),
		}
		if cmd.Flags().Changed("request") {
			id := startRequestID
			sra.RequestID = &id
		}
		return call(daemon.ActionStartRequest, sra)
	},
}

var startLinkDestGroup string

var startLinkCmd = &cobra.Command{
	Use:   "link <source-avatar-id> [dest-avatar-id]",
	Short: "Link an avatar to another avatar or to an avatar group",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcID, err := parseID(args[0])
		if err != nil {
			return err
		}
		sla := daemon.StartLinkArgs{
			SourceID:  srcID,
			DestGroup: startLinkDestGroup,
			Duration:  durationArg(cmd),
		}
		if len(args) == 2 {
			destID, err := parseID(args[1])
			if err != nil {
				return err
			}
			sla.DestID = &destID
		}
		return call(daemon.ActionStartLink, sla)
	},
}

var startGroupICGroup string

var startGroupCmd = &cobra.Command{
	Use:   "group",
	Short: "Start an IC group on an avatar group (full cross product)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionStartGroup, daemon.StartGroupArgs{
			AvatarGroup: startAvatarGroup,
			ICGroup:     startGroupICGroup,
			Duration:    durationArg(cmd),
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session; stopping a parent stops its children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return call(daemon.ActionStopSession, daemon.StopSessionArgs{SessionID: id})
	},
}

var (
	failAvatarID    int64
	failAvatarGroup string
	failAll         bool
)

var failCmd = &cobra.Command{
	Use:   "fail",
	Short: "Force sessions to FAILED",
	RunE: func(cmd *cobra.Command, args []string) error {
		if failAll {
			return call(daemon.ActionFailAll, struct{}{})
		}
		fa := daemon.FailOnTargetArgs{AvatarGroup: failAvatarGroup}
		if cmd.Flags().Changed("avatar") {
			id := failAvatarID
			fa.AvatarID = &id
		}
		return call(daemon.ActionFailOnTarget, fa)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Restart every failed session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionRedoFailed, struct{}{})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionPing, struct{}{})
	},
}

func init() {
	addTargetFlags(startICCmd)

	addTargetFlags(startRequestCmd)
	startRequestCmd.Flags().Int64Var(&startRequestID, "request", 0, "request id")
	startRequestCmd.Flags().StringVar(&startRequestGroup, "request-group", "", "request group name")

	startLinkCmd.Flags().StringVar(&startLinkDestGroup, "dest-group", "", "destination avatar group name")
	startLinkCmd.Flags().IntVar(&startDuration, "duration", 0, "session duration in minutes (omit to run forever)")

	startGroupCmd.Flags().StringVar(&startAvatarGroup, "avatar-group", "", "avatar group name")
	startGroupCmd.Flags().StringVar(&startGroupICGroup, "ic-group", "", "ic group name")
	startGroupCmd.Flags().IntVar(&startDuration, "duration", 0, "session duration in minutes (omit to run forever)")
	startGroupCmd.MarkFlagRequired("avatar-group")
	startGroupCmd.MarkFlagRequired("ic-group")

	startCmd.AddCommand(startICCmd, startRequestCmd, startLinkCmd, startGroupCmd)

	failCmd.Flags().Int64Var(&failAvatarID, "avatar", 0, "fail sessions on this avatar id")
	failCmd.Flags().StringVar(&failAvatarGroup, "avatar-group", "", "fail sessions on this avatar group")
	failCmd.Flags().BoolVar(&failAll, "all", false, "fail every running session")

	rootCmd.AddCommand(startCmd, stopCmd, failCmd, redoCmd, pingCmd)
}
