package main

import (
	"bufio"
	"bytes"
	"fmt"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/org/geocrypt/internal/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "geocrypt",
	Short: "GeoCrypt CLI",
	Long:  "A CLI for the GeoCrypt location-aware encrypted file service.",
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

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(wfhCmd())
	rootCmd.AddCommand(geofenceCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(keysCmd())
}

func prompt(label string) string {
	fmt.Print(label)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// hintQuery builds the location/network query string from the shared
// hint flags. Unset coordinates are omitted entirely rather than sent
// as zero.
func hintQuery(cmd *cobra.Command) string {
	q := url.Values{}
	if cmd.Flags().Changed("latitude") {
		lat, _ := cmd.Flags().GetFloat64("latitude")
		q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	}
	if cmd.Flags().Changed("longitude") {
		lon, _ := cmd.Flags().GetFloat64("longitude")
		q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	}
	if ssid, _ := cmd.Flags().GetString("ssid"); ssid != "" {
		q.Set("wifi_ssid", ssid)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func addHintFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("latitude", 0, "Current latitude")
	cmd.Flags().Float64("longitude", 0, "Current longitude")
	cmd.Flags().String("ssid", "", "Current WiFi SSID")
}

// --- auth ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in (password + one-time code)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			password := prompt("Password: ")

			client := newClient()
			if _, err := client.post("/v1/auth/login", map[string]any{
				"username": username,
				"password": password,
			}); err != nil {
				printError(err.Error())
				return nil
			}

			code := prompt("Verification code: ")
			result, err := client.post("/v1/auth/verify-otp", map[string]any{
				"username": username,
				"code":     code,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}

			access, _ := result["access_token"].(string)
			refresh, _ := result["refresh_token"].(string)
			if access == "" {
				printError("no token in response")
				return nil
			}
			cfg.AccessToken = access
			cfg.RefreshToken = refresh
			if err := saveConfig(); err != nil {
				printError("saving token: " + err.Error())
				return nil
			}
			printSuccess("Logged in. Token saved to config.")
			return nil
		},
	}
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and discard saved tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			client.post("/v1/auth/logout", nil) //nolint:errcheck
			cfg.AccessToken = ""
			cfg.RefreshToken = ""
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- files ---

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "files", Short: "Encrypted file operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List files with your access decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/files" + hintQuery(cmd))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if files, ok := result["files"].([]any); ok {
				printList(files)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addHintFlags(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Download and decrypt a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			client := newClient()
			data, _, err := client.getRaw("/v1/files/" + args[0] + hintQuery(cmd))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if out == "" || out == "-" {
				os.Stdout.Write(data) //nolint:errcheck
				return nil
			}
			if err := os.WriteFile(out, data, 0600); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Wrote %d bytes to %s", len(data), out))
			return nil
		},
	}
	addHintFlags(getCmd)
	getCmd.Flags().String("out", "", "Output path (default: stdout)")

	uploadCmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Encrypt and store a file (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			fw.Write(data) //nolint:errcheck
			mw.Close()

			client := newClient()
			result, err := client.postMultipart("/v1/files", buf.Bytes(), mw.FormDataContentType())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/files/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! File deleted.")
			return nil
		},
	}

	cmd.AddCommand(listCmd, getCmd, uploadCmd, deleteCmd)
	return cmd
}

// --- wfh ---

func wfhCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wfh", Short: "Work-from-home requests"}

	requestCmd := &cobra.Command{
		Use:   "request <reason>",
		Short: "File a work-from-home request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/wfh/requests", map[string]any{
				"reason": strings.Join(args, " "),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show your request history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/wfh/requests")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if reqs, ok := result["requests"].([]any); ok {
				printList(reqs)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all requests (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			path := "/v1/admin/wfh"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if reqs, ok := result["requests"].([]any); ok {
				printList(reqs)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	listCmd.Flags().String("status", "", "Filter by status: pending, approved, rejected")

	approveCmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a request with an access window (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			comment, _ := cmd.Flags().GetString("comment")
			client := newClient()
			result, err := client.post("/v1/admin/wfh/"+args[0]+"/decision", map[string]any{
				"approve":       true,
				"access_start":  start,
				"access_end":    end,
				"admin_comment": comment,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	approveCmd.Flags().String("start", "", "Window start (RFC3339)")
	approveCmd.Flags().String("end", "", "Window end (RFC3339)")
	approveCmd.Flags().String("comment", "", "Admin comment")

	rejectCmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a request (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, _ := cmd.Flags().GetString("comment")
			client := newClient()
			result, err := client.post("/v1/admin/wfh/"+args[0]+"/decision", map[string]any{
				"approve":       false,
				"admin_comment": comment,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	rejectCmd.Flags().String("comment", "", "Admin comment")

	cmd.AddCommand(requestCmd, statusCmd, listCmd, approveCmd, rejectCmd)
	return cmd
}

// --- geofence ---

func geofenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "geofence", Short: "Access policy management (admin)"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the access policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/admin/geofence")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the access policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, _ := cmd.Flags().GetFloat64("latitude")
			lon, _ := cmd.Flags().GetFloat64("longitude")
			radius, _ := cmd.Flags().GetFloat64("radius")
			ssid, _ := cmd.Flags().GetString("ssid")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			client := newClient()
			result, err := client.put("/v1/admin/geofence", map[string]any{
				"latitude":     lat,
				"longitude":    lon,
				"radius":       radius,
				"allowed_ssid": ssid,
				"start_time":   start,
				"end_time":     end,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	setCmd.Flags().Float64("latitude", 0, "Geofence center latitude")
	setCmd.Flags().Float64("longitude", 0, "Geofence center longitude")
	setCmd.Flags().Float64("radius", 100, "Geofence radius in meters")
	setCmd.Flags().String("ssid", "", "Allowed WiFi SSID")
	setCmd.Flags().String("start", "09:00", "Window start (HH:MM)")
	setCmd.Flags().String("end", "18:00", "Window end (HH:MM)")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

// --- logs / stats ---

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the access audit trail (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if v, _ := cmd.Flags().GetString("username"); v != "" {
				q.Set("username", v)
			}
			if v, _ := cmd.Flags().GetString("file-id"); v != "" {
				q.Set("file_id", v)
			}
			if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
				q.Set("limit", strconv.Itoa(v))
			}
			path := "/v1/admin/access-logs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if logs, ok := result["logs"].([]any); ok {
				printList(logs)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("username", "", "Filter by username")
	cmd.Flags().String("file-id", "", "Filter by file ID")
	cmd.Flags().Int("limit", 0, "Maximum entries")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/admin/stats")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- keys ---

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Local key-encapsulation utilities"}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key-encapsulation keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeypair()
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"mode":       string(kp.Mode),
				"public_key": crypto.KeyToString(kp.Public),
				"secret_key": crypto.KeyToString(kp.Secret),
			})
			return nil
		},
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Self-test: encapsulate and decapsulate a shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeypair()
			if err != nil {
				printError(err.Error())
				return nil
			}
			encapsulated, shared, err := crypto.Encapsulate(kp.Mode, kp.Public)
			if err != nil {
				printError(err.Error())
				return nil
			}
			recovered, err := crypto.Decapsulate(kp.Mode, kp.Secret, encapsulated)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !bytes.Equal(shared, recovered) {
				printError("shared secret mismatch")
				return nil
			}
			printResult(map[string]any{
				"mode":               string(kp.Mode),
				"encapsulated_bytes": len(encapsulated),
				"shared_secret_ok":   true,
			})
			return nil
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the local cryptographic configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeypair()
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(crypto.Info(kp.Mode))
			return nil
		},
	}

	cmd.AddCommand(generateCmd, testCmd, infoCmd)
	return cmd
}
