package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the classroom hub",
		Long: `Start the hub: apply directory migrations, open the WebSocket endpoints
/ws/teacher and /ws/student, the ops API and metrics, and the liveness sweeps.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func buildMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the roster directory schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

func buildSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, classes and enrollments from a YAML roster",
		Example: `  classhub seed -f roster.yaml

  # roster.yaml
  users:
    - {id: t1, name: Ms. Rivera, role: teacher}
    - {id: s1, name: Ada, role: student}
  classes:
    - {id: c1, name: Algebra, teacher_id: t1}
  enrollments:
    - {student_id: s1, class_id: c1}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Roster YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func buildTokenCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed session token for a directory user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.Context(), *configPath, userID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to issue the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildRevokeCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Invalidate every session token issued so far for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevoke(cmd.Context(), *configPath, userID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id whose sessions are revoked")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
