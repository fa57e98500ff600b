package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Command is one REPL command.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(ctx context.Context, client *Client, args []string) (string, error)
}

func commands() map[string]Command {
	cmds := map[string]Command{
		"status": {
			Name:  "status",
			Usage: "status <taskId>",
			Help:  "show the last known status of a judge task",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				if len(args) != 1 {
					return "", fmt.Errorf("usage: status <taskId>")
				}
				return client.GetStatus(ctx, args[0])
			},
		},
		"ranklist": {
			Name:  "ranklist",
			Usage: "ranklist <contestId>",
			Help:  "show a contest's standing",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				id, err := parseContestID(args)
				if err != nil {
					return "", err
				}
				return client.GetRanklist(ctx, id)
			},
		},
		"player": {
			Name:  "player",
			Usage: "player <contestId> <userId>",
			Help:  "show a player's per-problem standing",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				if len(args) != 2 {
					return "", fmt.Errorf("usage: player <contestId> <userId>")
				}
				contestID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return "", fmt.Errorf("bad contest id %q", args[0])
				}
				userID, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return "", fmt.Errorf("bad user id %q", args[1])
				}
				return client.GetPlayerDetail(ctx, contestID, userID)
			},
		},
		"rebuild": {
			Name:  "rebuild",
			Usage: "rebuild <contestId>",
			Help:  "discard and replay a contest's standing",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				id, err := parseContestID(args)
				if err != nil {
					return "", err
				}
				return client.RebuildRanklist(ctx, id)
			},
		},
		"ruleset": {
			Name:  "ruleset",
			Usage: "ruleset <contestId> <noi|ioi|acm|open>",
			Help:  "switch a contest's scoring rule set",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				if len(args) != 2 {
					return "", fmt.Errorf("usage: ruleset <contestId> <noi|ioi|acm|open>")
				}
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return "", fmt.Errorf("bad contest id %q", args[0])
				}
				return client.ChangeRuleSet(ctx, id, args[1])
			},
		},
		"submit": {
			Name:  "submit",
			Usage: "submit <problemId> <userId> <language> <testDataId> <codeFile...>",
			Help:  "enqueue a submission (code read verbatim from the remaining args)",
			Run: func(ctx context.Context, client *Client, args []string) (string, error) {
				if len(args) < 5 {
					return "", fmt.Errorf("usage: submit <problemId> <userId> <language> <testDataId> <code>")
				}
				problemID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return "", fmt.Errorf("bad problem id %q", args[0])
				}
				userID, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return "", fmt.Errorf("bad user id %q", args[1])
				}
				return client.Submit(ctx, map[string]interface{}{
					"problemId": problemID,
					"userId":    userID,
					"language":  args[2],
					"testData":  args[3],
					"code":      strings.Join(args[4:], " "),
				})
			},
		},
	}
	return cmds
}

func parseContestID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one contest id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad contest id %q", args[0])
	}
	return id, nil
}

func helpText(cmds map[string]Command) string {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("commands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  %-45s %s\n", cmds[name].Usage, cmds[name].Help)
	}
	sb.WriteString("  help                                          show this help\n")
	sb.WriteString("  exit                                          leave the shell\n")
	return sb.String()
}

// RunREPL runs the interactive shell until EOF or exit.
func RunREPL(client *Client) error {
	cmds := commands()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nexoj> ",
		HistoryFile:     "/tmp/nexoj_cli_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Print(helpText(cmds))
			continue
		}

		cmd, ok := cmds[args[0]]
		if !ok {
			fmt.Printf("unknown command %q, try help\n", args[0])
			continue
		}
		out, err := cmd.Run(context.Background(), client, args[1:])
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(out)
	}
}
