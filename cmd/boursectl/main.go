package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "bourse/internal/cli"
	"bourse/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "boursectl",
		Short:        "Bourse game engine client",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newRegisterCmd(&apiBase),
		newLogoutCmd(),
		newJoinCmd(&apiBase),
		newMeCmd(&apiBase),
		newProfileCmd(&apiBase),
		newMarketCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newBuyCmd(&apiBase),
		newSellCmd(&apiBase),
		newFAQCmd(&apiBase),
		newGamesCmd(&apiBase),
		newIdentityCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func reqContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func sessionToken() (string, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return "", fmt.Errorf("not logged in, run `boursectl register` first: %w", err)
	}
	return session.Token, nil
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(raw))
}

func newRegisterCmd(apiBase *string) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "register <identity-id>",
		Short: "Register an identity and save the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid identity id %q", args[0])
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Register(ctx, identityID, displayName)
			if err != nil {
				return err
			}
			token, _ := out["token"].(string)
			if token == "" {
				return fmt.Errorf("no token in response")
			}
			if err := cl.SaveSession(cl.Session{Token: token, IdentityID: identityID}); err != nil {
				return err
			}
			fmt.Println("registered, session saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.ClearSession()
		},
	}
}

func newJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <join-key>",
		Short: "Join a game by its join key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Join(ctx, token, args[0])
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the current identity and active game",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Me(ctx, token)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newProfileCmd(apiBase *string) *cobra.Command {
	var firstName, lastName, nickname string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update profile fields of the active game",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			fields := map[string]any{}
			if cmd.Flags().Changed("first-name") {
				fields["first_name"] = firstName
			}
			if cmd.Flags().Changed("last-name") {
				fields["last_name"] = lastName
			}
			if cmd.Flags().Changed("nickname") {
				fields["nickname"] = nickname
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update")
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).UpdateProfile(ctx, token, fields)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname")
	return cmd
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "List companies and prices of the active game",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Market(ctx, token)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show cash and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Portfolio(ctx, token)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return newDealCmd(apiBase, "buy", "Buy shares", func(c *cl.Client, ctx context.Context, token, ticker string, qty int) (map[string]any, error) {
		return c.Buy(ctx, token, ticker, qty)
	})
}

func newSellCmd(apiBase *string) *cobra.Command {
	return newDealCmd(apiBase, "sell", "Sell shares", func(c *cl.Client, ctx context.Context, token, ticker string, qty int) (map[string]any, error) {
		return c.Sell(ctx, token, ticker, qty)
	})
}

func newDealCmd(apiBase *string, use, short string, run func(*cl.Client, context.Context, string, string, int) (map[string]any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ticker> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := run(newClient(apiBase), ctx, token, args[0], quantity)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newFAQCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "faq",
		Short: "Show the game's FAQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := reqContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).FAQ(ctx, token)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newGamesCmd(apiBase *string) *cobra.Command {
	games := &cobra.Command{
		Use:   "games",
		Short: "Administer games (superadmin)",
	}

	games.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return c.ListGames(ctx, token)
			})
		},
	})

	games.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return c.CreateGame(ctx, token)
			})
		},
	})

	games.AddCommand(&cobra.Command{
		Use:   "config-link <game-id> <link>",
		Short: "Bind a configuration sheet to the game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid game id %q", args[0])
			}
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return c.SetConfigLink(ctx, token, gameID, args[1])
			})
		},
	})

	games.AddCommand(newGameIDCmd(apiBase, "reload", "Force a configuration reload", func(c *cl.Client, ctx context.Context, token string, gameID int64) (map[string]any, error) {
		return c.ReloadConfig(ctx, token, gameID)
	}))
	games.AddCommand(newGameIDCmd(apiBase, "settle", "Run the settlement pipeline now", func(c *cl.Client, ctx context.Context, token string, gameID int64) (map[string]any, error) {
		return c.Settle(ctx, token, gameID)
	}))
	games.AddCommand(newGameToggleCmd(apiBase, "registration", "Open or close registration", func(c *cl.Client, ctx context.Context, token string, gameID int64, open bool) (map[string]any, error) {
		return c.SetRegistration(ctx, token, gameID, open)
	}))
	games.AddCommand(newGameToggleCmd(apiBase, "market", "Open or close the market", func(c *cl.Client, ctx context.Context, token string, gameID int64, open bool) (map[string]any, error) {
		return c.SetMarket(ctx, token, gameID, open)
	}))

	return games
}

func newGameIDCmd(apiBase *string, use, short string, run func(*cl.Client, context.Context, string, int64) (map[string]any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <game-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid game id %q", args[0])
			}
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return run(c, ctx, token, gameID)
			})
		},
	}
}

func newGameToggleCmd(apiBase *string, use, short string, run func(*cl.Client, context.Context, string, int64, bool) (map[string]any, error)) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   use + " <game-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid game id %q", args[0])
			}
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return run(c, ctx, token, gameID, open)
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", true, "open (true) or close (false)")
	return cmd
}

func newIdentityCmd(apiBase *string) *cobra.Command {
	identity := &cobra.Command{
		Use:   "identity",
		Short: "Administer identities (superadmin)",
	}
	identity.AddCommand(newIdentityActionCmd(apiBase, "promote", "Grant superadmin", func(c *cl.Client, ctx context.Context, token string, id int64) (map[string]any, error) {
		return c.Promote(ctx, token, id)
	}))
	identity.AddCommand(newIdentityActionCmd(apiBase, "ban", "Block an identity", func(c *cl.Client, ctx context.Context, token string, id int64) (map[string]any, error) {
		return c.BanIdentity(ctx, token, id)
	}))
	identity.AddCommand(newIdentityActionCmd(apiBase, "unban", "Unblock an identity", func(c *cl.Client, ctx context.Context, token string, id int64) (map[string]any, error) {
		return c.UnbanIdentity(ctx, token, id)
	}))
	return identity
}

func newIdentityActionCmd(apiBase *string, use, short string, run func(*cl.Client, context.Context, string, int64) (map[string]any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid identity id %q", args[0])
			}
			return adminCall(cmd, apiBase, func(c *cl.Client, ctx context.Context, token string) (map[string]any, error) {
				return run(c, ctx, token, id)
			})
		},
	}
}

func adminCall(cmd *cobra.Command, apiBase *string, run func(*cl.Client, context.Context, string) (map[string]any, error)) error {
	token, err := sessionToken()
	if err != nil {
		return err
	}
	ctx, cancel := reqContext(cmd)
	defer cancel()
	out, err := run(newClient(apiBase), ctx, token)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}
