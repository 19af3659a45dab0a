// Command pendo runs the climate-career guidance service: an HTTP server, an
// interactive terminal chat, and a config validator.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/climatepath/pendo/pkg/app"
	"github.com/climatepath/pendo/pkg/config"
	"github.com/climatepath/pendo/pkg/logger"
)

type cli struct {
	Config    string `help:"Path to the YAML config file." short:"c" type:"existingfile" optional:""`
	LogLevel  string `help:"Log level: debug, info, warn, error." default:"info"`
	LogFormat string `help:"Log format: simple, verbose, json." default:"simple"`

	Serve    serveCmd    `cmd:"" default:"1" help:"Run the HTTP server."`
	Chat     chatCmd     `cmd:"" help:"Chat with the team from the terminal."`
	Validate validateCmd `cmd:"" help:"Validate the config file and exit."`
}

type serveCmd struct{}

func (s *serveCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

type chatCmd struct {
	User string `help:"User id for the chat session." default:"local-user"`
}

func (c *chatCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	defer a.Close()

	conversationID := uuid.NewString()
	fmt.Println("pendo chat. Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		res, err := a.Runner.HandleTurn(ctx, c.User, conversationID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("[%s] %s\n", res.Specialist, strings.TrimSpace(res.Content))
		if res.Suspended {
			if q, ok := res.SteeringPayload["question"].(string); ok {
				fmt.Printf("[pendo] %s\n", q)
			}
		}
	}
}

type validateCmd struct{}

func (v *validateCmd) Run(cfg *config.Config) error {
	fmt.Printf("config ok: %d llm(s), vector backend %s, store driver %s\n",
		len(cfg.LLMs), cfg.Vector.Backend, cfg.Store.Driver)
	return nil
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("pendo"),
		kong.Description("Multi-specialist climate career guidance service."),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(c.LogLevel), os.Stderr, c.LogFormat)

	cfg, err := config.Load(c.Config)
	kctx.FatalIfErrorf(err)

	kctx.FatalIfErrorf(kctx.Run(cfg))
}
