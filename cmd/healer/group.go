package main

import (
	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/daemon"
)

var groupType string

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage avatar, ic, and request groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionCreateGroup, daemon.CreateGroupArgs{
			GroupType: groupType,
			GroupName: args[0],
		})
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add <name> <member-id>",
	Short: "Add a member; running group sessions pick it up immediately",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return call(daemon.ActionAddMember, daemon.MemberArgs{
			GroupType: groupType,
			GroupName: args[0],
			MemberID:  id,
		})
	},
}

var groupRemoveMemberCmd = &cobra.Command{
	Use:   "remove-member <name> <member-id>",
	Short: "Remove a member; its live group sessions stop",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return call(daemon.ActionRemoveMember, daemon.MemberArgs{
			GroupType: groupType,
			GroupName: args[0],
			MemberID:  id,
		})
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a group and stop its live sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(daemon.ActionRemoveGroup, daemon.RemoveGroupArgs{
			GroupType: groupType,
			GroupName: args[0],
		})
	},
}

func init() {
	groupCmd.PersistentFlags().StringVar(&groupType, "type", "avatar", "group type: avatar, ic, or request")
	groupCmd.AddCommand(groupCreateCmd, groupAddCmd, groupRemoveMemberCmd, groupRemoveCmd)
	rootCmd.AddCommand(groupCmd)
}
