package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MedGAN-AI/price-pilot/internal/orchestrator"
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run turns from the command line",
	Long: `Ask sends one message through the orchestrator and prints the reply.
With --interactive it reads one message per line from stdin until EOF.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interactive, _ := cmd.Flags().GetBool("interactive")
		sessionID, _ := cmd.Flags().GetString("session")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if !interactive && len(args) == 0 {
			return fmt.Errorf("a message is required unless --interactive is set")
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := buildApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if !interactive {
			_, err := askOnce(ctx, a.orch, out, sessionID, strings.Join(args, " "), verbose)
			return err
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		fmt.Fprint(out, "> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				id, err := askOnce(ctx, a.orch, out, sessionID, line, verbose)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				} else {
					sessionID = id
				}
			}
			fmt.Fprint(out, "> ")
		}
		fmt.Fprintln(out)
		return scanner.Err()
	},
}

// askOnce runs one turn and prints the reply. It returns the session id the
// turn ran on.
func askOnce(ctx context.Context, orch *orchestrator.Orchestrator, out io.Writer, sessionID, msg string, verbose bool) (string, error) {
	res, err := orch.HandleTurn(ctx, orchestrator.TurnRequest{
		SessionID: sessionID,
		Message:   msg,
		Channel:   "cli",
	})
	if err != nil {
		return "", err
	}

	fmt.Fprintln(out, res.Message)
	if verbose {
		fmt.Fprintf(out, "  [session=%s turn=%d intent=%s confidence=%.2f route=%s status=%s]\n",
			res.SessionID, res.Turn, res.Intent, res.Confidence, res.Route, res.Status)
		for _, st := range res.Steps {
			fmt.Fprintf(out, "  - %s (%s): %s\n", st.Step, st.Worker, st.Status)
		}
	}
	return res.SessionID, nil
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolP("interactive", "i", false, "read messages from stdin")
	askCmd.Flags().StringP("session", "s", "", "session id to continue")
	askCmd.Flags().BoolP("verbose", "v", false, "print routing details")
}
