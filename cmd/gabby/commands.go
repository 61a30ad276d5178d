package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/BanjoBob15/gabby-discord-bot/internal/api"
	"github.com/BanjoBob15/gabby-discord-bot/internal/config"
	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit user profiles on a running gabby",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listProfiles(cmd.Context(), client, cmd.OutOrStdout())
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show one profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showProfile(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user-id> <name|mood|condition> <value>",
	Short: "Set a profile field",
	Long: fmt.Sprintf(`Set a profile field.

Moods:      %s
Conditions: %s`, strings.Join(profile.Moods, ", "), strings.Join(profile.Conditions, ", ")),
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := setProfileField(cmd.Context(), client, args[0], args[1], args[2]); err != nil {
			return err
		}
		printSuccess("Set %s = %s for %s", args[1], args[2], args[0])
		return nil
	},
}

var profileNoteCmd = &cobra.Command{
	Use:   "note <user-id> <text>",
	Short: "Append a session note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		if err := appendNote(cmd.Context(), client, args[0], text); err != nil {
			return err
		}
		printSuccess("Noted for %s", args[0])
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileSetCmd, profileNoteCmd)
}

func listProfiles(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.get(ctx, "/profiles")
	if err != nil {
		return err
	}
	var entries []api.ProfileEntry
	if err := decodeJSON(resp, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		printWarning("no profiles stored yet")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tNAME\tMOOD\tCONDITION\tNOTES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", e.UserID, e.Name, e.Mood, e.Condition, len(e.Notes))
	}
	return tw.Flush()
}

func showProfile(ctx context.Context, c *apiClient, w io.Writer, userID string) error {
	resp, err := c.get(ctx, profilePath(userID))
	if err != nil {
		return err
	}
	var p profile.UserProfile
	if err := decodeJSON(resp, &p); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func setProfileField(ctx context.Context, c *apiClient, userID, field, value string) error {
	// Validate locally for a friendlier message; the server checks again.
	if _, err := profile.FieldPatch(field, value); err != nil {
		return err
	}
	resp, err := c.patch(ctx, profilePath(userID), map[string]string{field: value})
	if err != nil {
		return err
	}
	var updated profile.UserProfile
	return decodeJSON(resp, &updated)
}

func appendNote(ctx context.Context, c *apiClient, userID, text string) error {
	resp, err := c.post(ctx, profilePath(userID)+"/notes", api.NoteRequest{Text: text})
	if err != nil {
		return err
	}
	var result map[string]string
	return decodeJSON(resp, &result)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadLenient()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSecretCmd = &cobra.Command{
	Use:   "secret <key>",
	Short: "Store a secret in the OS keyring (value read from stdin)",
	Long:  "Store a secret in the OS keyring. The value is read from the first line of stdin.\n\nKeys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		printStep("Enter value for %s:", key)
		value, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := config.StoreSecret(key, value); err != nil {
			return err
		}
		printSuccess("Stored %s in the OS keyring", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSecretCmd)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("empty secret")
	}
	return value, nil
}

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Inspect personas",
}

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range persona.Builtins() {
			marker := ""
			if name == persona.Default {
				marker = " (default)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", name, marker)
		}
		return nil
	},
}

var personaShowCmd = &cobra.Command{
	Use:   "show [name-or-path]",
	Short: "Print a persona's name, trigger and system prompt",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) == 1 {
			ref = args[0]
		} else if cfg, err := config.LoadLenient(); err == nil {
			ref = cfg.Persona.Ref
		}
		p, err := persona.Load(ref)
		if err != nil {
			return err
		}
		printPersona(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	personaCmd.AddCommand(personaListCmd, personaShowCmd)
}

func printPersona(w io.Writer, p *persona.Persona) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Name:"), p.Name)
	fmt.Fprintf(w, "%s %q\n", colorize(colorBold, "Greeting:"), p.Greeting)
	if p.Activity != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Activity:"), p.Activity)
	}
	fmt.Fprintf(w, "%s\n%s\n", colorize(colorBold, "Prompt:"), strings.TrimSpace(p.Prompt))
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve profile tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadLenient()
		if err != nil {
			return err
		}
		p, err := persona.Load(cfg.Persona.Ref)
		if err != nil {
			return fmt.Errorf("loading persona: %w", err)
		}
		backend, _, err := openBackend(cfg.Storage)
		if err != nil {
			return err
		}
		defer backend.Close()

		s := api.NewMCPServer(api.MCPDeps{
			Profiles: profile.NewManager(backend),
			Persona:  p,
			Version:  version,
		})
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		err = server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
