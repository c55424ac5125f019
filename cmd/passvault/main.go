package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "passvault",
	Short: "PassVault CLI",
	Long:  "A CLI for managing accounts and secrets in PassVault.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(resendOTPCmd())
	rootCmd.AddCommand(forgotPasswordCmd())
	rootCmd.AddCommand(resetPasswordCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(passwdCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(auditCmd())
}

// promptPassword reads a password without echoing. Falls back to a plain
// line read when stdin is not a terminal (pipes, scripts).
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func saveSessionToken(result map[string]any) {
	tok, _ := result["token"].(string)
	if tok == "" {
		return
	}
	cfg.Token = tok
	if err := saveConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Session token saved to config.")
	}
}

// --- account commands ---

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <handle> <email>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				printError("passwords do not match")
				return nil
			}

			client := newClient()
			result, err := client.post("/v1/auth/register", map[string]any{
				"handle":   args[0],
				"email":    args[1],
				"phone":    phone,
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if sent, _ := result["code_sent"].(bool); sent {
				printSuccess("Account created. Check " + args[1] + " for your verification code.")
			} else {
				printSuccess("Account created, but the verification mail could not be sent. Use resend-otp to retry.")
			}
			return nil
		},
	}
	cmd.Flags().String("phone", "", "Phone number (optional)")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <handle|email|phone>",
		Short: "Log in and save a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post("/v1/auth/login", map[string]any{
				"identifier": args[0],
				"password":   password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			saveSessionToken(result)
			if acct, ok := result["account"].(map[string]any); ok {
				printResult(acct)
			}
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <email> <code>",
		Short: "Verify an email with a one-time code (logs you in)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/auth/verify-email", map[string]any{
				"email": args[0],
				"code":  args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			saveSessionToken(result)
			printSuccess("Email verified.")
			return nil
		},
	}
}

func resendOTPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend-otp <email>",
		Short: "Resend the verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/auth/resend-otp", map[string]any{"email": args[0]}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Verification code sent.")
			return nil
		},
	}
}

func forgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Request a password recovery code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/auth/forgot-password", map[string]any{"email": args[0]}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("If the address is registered, a recovery code is on its way.")
			return nil
		},
	}
}

func resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email> <code>",
		Short: "Reset the password with a recovery code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("New password: ")
			if err != nil {
				return err
			}
			client := newClient()
			if _, err := client.post("/v1/auth/reset-password", map[string]any{
				"email":        args[0],
				"code":         args[1],
				"new_password": password,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Password reset. Log in with the new password.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/users/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := promptPassword("Current password: ")
			if err != nil {
				return err
			}
			newPass, err := promptPassword("New password: ")
			if err != nil {
				return err
			}
			client := newClient()
			if _, err := client.post("/v1/users/me/password", map[string]any{
				"current_password": current,
				"new_password":     newPass,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Password changed.")
			return nil
		},
	}
}

func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <handle>",
		Short: "Clear an account's brute-force lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/users/"+args[0]+"/unlock", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Account unlocked: " + args[0])
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show the account's audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/users/me/audit")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["entries"].([]any); ok {
				printRows(entries, []string{"action", "resource_type", "resource_id", "detail", "timestamp"})
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- secret commands ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage vault secrets"}

	putCmd := &cobra.Command{
		Use:   "put <name>",
		Short: "Store a new secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			metaPairs, _ := cmd.Flags().GetStringSlice("meta")
			sideEmail, _ := cmd.Flags().GetString("side-email")
			sideUser, _ := cmd.Flags().GetString("side-username")

			metadata := map[string]string{}
			for _, kv := range metaPairs {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				metadata[parts[0]] = parts[1]
			}

			value, err := promptPassword("Secret value: ")
			if err != nil {
				return err
			}

			client := newClient()
			result, err := client.post("/v1/secrets", map[string]any{
				"name":          args[0],
				"value":         value,
				"tags":          tags,
				"metadata":      metadata,
				"side_email":    sideEmail,
				"side_username": sideUser,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	putCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	putCmd.Flags().StringSlice("meta", nil, "Metadata key=value (repeatable)")
	putCmd.Flags().String("side-email", "", "Email associated with the stored credential")
	putCmd.Flags().String("side-username", "", "Username associated with the stored credential")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a secret's fields (not its value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	revealCmd := &cobra.Command{
		Use:   "reveal <id>",
		Short: "Print a secret's decrypted value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0] + "/value")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if v, ok := result["value"].(string); ok {
				fmt.Println(v)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if secrets, ok := result["secrets"].([]any); ok {
				printRows(secrets, []string{"id", "name", "side_username", "tags", "updated_at"})
				return nil
			}
			printResult(result)
			return nil
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				body["name"] = name
			}
			if cmd.Flags().Changed("side-email") {
				v, _ := cmd.Flags().GetString("side-email")
				body["side_email"] = v
			}
			if cmd.Flags().Changed("side-username") {
				v, _ := cmd.Flags().GetString("side-username")
				body["side_username"] = v
			}
			if cmd.Flags().Changed("tag") {
				tags, _ := cmd.Flags().GetStringSlice("tag")
				body["tags"] = tags
			}
			if prompt, _ := cmd.Flags().GetBool("value"); prompt {
				value, err := promptPassword("New secret value: ")
				if err != nil {
					return err
				}
				body["value"] = value
			}
			if len(body) == 0 {
				printError("nothing to update; pass at least one flag")
				return nil
			}

			client := newClient()
			result, err := client.patch("/v1/secrets/"+args[0], body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	updateCmd.Flags().String("name", "", "New name")
	updateCmd.Flags().Bool("value", false, "Prompt for a new value")
	updateCmd.Flags().String("side-email", "", "New associated email")
	updateCmd.Flags().String("side-username", "", "New associated username")
	updateCmd.Flags().StringSlice("tag", nil, "Replace tags (repeatable)")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a secret and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/secrets/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Secret deleted.")
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a secret's change history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0] + "/history")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["history"].([]any); ok {
				printRows(entries, []string{"kind", "actor_id", "created_at"})
				return nil
			}
			printResult(result)
			return nil
		},
	}

	shareCmd := &cobra.Command{
		Use:   "share <id> <handle>",
		Short: "Record a share of a secret with another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			permission, _ := cmd.Flags().GetString("permission")
			client := newClient()
			result, err := client.post("/v1/secrets/"+args[0]+"/share", map[string]any{
				"handle":     args[1],
				"permission": permission,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	shareCmd.Flags().String("permission", "READ", "READ or WRITE")

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export all secrets as CSV (requires password confirmation)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Account password: ")
			if err != nil {
				return err
			}

			out := os.Stdout
			if len(args) == 1 {
				f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
				if err != nil {
					printError(err.Error())
					return nil
				}
				defer f.Close()
				out = f
			}

			client := newClient()
			if err := client.download("POST", "/v1/secrets/export",
				map[string]any{"password": password}, out); err != nil {
				printError(err.Error())
				return nil
			}
			if len(args) == 1 {
				fmt.Fprintln(os.Stderr, "Export written to "+args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(putCmd, getCmd, revealCmd, listCmd, updateCmd, rmCmd, historyCmd, shareCmd, exportCmd)
	return cmd
}
