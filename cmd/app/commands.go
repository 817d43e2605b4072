package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/distwiki/internal"
	"github.com/starford/distwiki/internal/wikiservice"
)

// session loads the config and runs fn against a one-shot wiki service.
func session(fn func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return internal.Exec(ctx, func(ctx context.Context, svc *wikiservice.Service) error {
			return fn(ctx, cmd, svc)
		}, stderrOptions(cfg)...)
	}
}

func requireTitle(cmd *cli.Command) (string, error) {
	title := cmd.Args().First()
	if title == "" {
		return "", fmt.Errorf("%s: missing TITLE argument", cmd.Name)
	}
	return title, nil
}

// readBody reads the article text from the FILE argument, or stdin when absent or "-".
func readBody(cmd *cli.Command) ([]byte, error) {
	name := cmd.Args().Get(1)
	if name == "" || name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a new article",
		ArgsUsage: "TITLE [FILE]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "authorized",
				Aliases: []string{"a"},
				Usage:   "Extra account address allowed to revise the article (repeatable)",
			},
		},
		Action: session(func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error {
			title, err := requireTitle(cmd)
			if err != nil {
				return err
			}
			body, err := readBody(cmd)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			sub, err := svc.Publish(ctx, title, body, cmd.StringSlice("authorized"))
			if err != nil {
				return err
			}
			return printJSON(sub)
		}),
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Publish a new version of an existing article",
		ArgsUsage: "TITLE [FILE]",
		Action: session(func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error {
			title, err := requireTitle(cmd)
			if err != nil {
				return err
			}
			body, err := readBody(cmd)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			sub, err := svc.Revise(ctx, title, body)
			if err != nil {
				return err
			}
			return printJSON(sub)
		}),
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Retrieve an article and print its text",
		ArgsUsage: "TITLE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "version",
				Usage: "Version index, counting from 0 (default: latest)",
			},
		},
		Action: session(func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error {
			title, err := requireTitle(cmd)
			if err != nil {
				return err
			}
			var version *int
			if cmd.IsSet("version") {
				v := int(cmd.Int("version"))
				version = &v
			}
			detail, err := svc.Read(ctx, title, version)
			if err != nil {
				return err
			}
			_, err = io.WriteString(os.Stdout, detail.Content)
			return err
		}),
	}
}

func titlesCommand() *cli.Command {
	return &cli.Command{
		Name:  "titles",
		Usage: "List registered article titles",
		Action: session(func(ctx context.Context, _ *cli.Command, svc *wikiservice.Service) error {
			titles, err := svc.Titles(ctx)
			if err != nil {
				return err
			}
			for _, t := range titles {
				fmt.Println(t)
			}
			return nil
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show every version of an article",
		ArgsUsage: "TITLE",
		Action: session(func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error {
			title, err := requireTitle(cmd)
			if err != nil {
				return err
			}
			versions, err := svc.History(ctx, title)
			if err != nil {
				return err
			}
			return printJSON(versions)
		}),
	}
}

func actionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "actions",
		Usage: "List recent transactions from this account with their status",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   10,
				Usage:   "Max entries",
			},
		},
		Action: session(func(ctx context.Context, cmd *cli.Command, svc *wikiservice.Service) error {
			actions, err := svc.RecentActions(ctx, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			for _, a := range actions {
				fmt.Printf("%-8s %s\n", a.Status, a.Description)
			}
			return nil
		}),
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check pending transactions against the chain once",
		Action: session(func(ctx context.Context, _ *cli.Command, svc *wikiservice.Service) error {
			pending, err := svc.Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d pending\n", pending)
			return nil
		}),
	}
}

func estimateCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate",
		Usage: "Estimate the cost in wei of publishing one article",
		Action: session(func(ctx context.Context, _ *cli.Command, svc *wikiservice.Service) error {
			wei, err := svc.EstimateCost(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s wei\n", wei)
			return nil
		}),
	}
}
