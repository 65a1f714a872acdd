package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/client"
	"github.com/jrsteele09/go-auth-session/gateway"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/monitor"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	email := flag.String("email", os.Getenv("AUTH_EMAIL"), "login email")
	password := flag.String("password", os.Getenv("AUTH_PASSWORD"), "login password")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*envFile, *email, *password); err != nil {
		log.Fatal().Err(err).Msg("sessionctl failed")
	}
	log.Info().Msg("sessionctl stopped")
}

func run(envFile, email, password string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("config.LoadDotEnv: %w", err)
	}
	c := config.New()
	configureLogging(c)
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loggedOut := make(chan string, 1)
	cl, err := client.New(c,
		client.WithRegisterer(prometheus.DefaultRegisterer),
		client.WithListener(printTransition),
		client.WithRedirect(func(loginURL string) {
			select {
			case loggedOut <- loginURL:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("client.New: %w", err)
	}
	defer cl.Close()

	restored, err := cl.Auth().Restore(ctx)
	if err != nil {
		return fmt.Errorf("Restore: %w", err)
	}
	if !restored {
		if _, err := cl.Login(ctx, email, password); err != nil {
			return fmt.Errorf("Login: %w", err)
		}
	}
	fmt.Println("Commands: status | extend | get <path> | logout | quit (anything else counts as activity)")

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case loginURL := <-loggedOut:
			fmt.Printf("Session ended, continue at %s\n", loginURL)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, cl, line); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, cl *client.Client, line string) bool {
	fields := strings.Fields(line)
	cmd := ""
	if len(fields) > 0 {
		cmd = fields[0]
	}

	m := cl.Auth().Monitor()
	switch cmd {
	case "quit", "exit":
		return true
	case "logout":
		if err := cl.Auth().Logout(ctx); err != nil {
			log.Err(err).Msg("Logout failed")
		}
		fmt.Println("Logged out")
		return true
	case "status":
		printStatus(ctx, m)
	case "extend":
		if m == nil {
			fmt.Println("No active session")
			return false
		}
		if err := m.StayLoggedIn(ctx); err != nil {
			log.Err(err).Msg("Extend failed")
			return false
		}
		printStatus(ctx, m)
	case "get":
		if len(fields) < 2 {
			fmt.Println("usage: get <path>")
			return false
		}
		if m != nil {
			m.Activity()
		}
		fetch(ctx, cl, fields[1])
	default:
		if m != nil {
			m.Activity()
		}
	}
	return false
}

func fetch(ctx context.Context, cl *client.Client, path string) {
	resp, err := cl.Gateway().Execute(ctx, gateway.Get(path))
	if err != nil {
		log.Err(err).Str("path", path).Msg("Request failed")
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("%s %s\n%s\n", colourise(statusColour(resp.StatusCode), resp.Status), path, body)
}

func printStatus(ctx context.Context, m *monitor.Monitor) {
	if m == nil {
		fmt.Println("No active session")
		return
	}
	remaining, err := m.Remaining(ctx)
	if err != nil {
		fmt.Printf("%s (%v)\n", stateLabel(m.State()), err)
		return
	}
	fmt.Printf("%s, %s remaining\n", stateLabel(m.State()), session.FormatRemaining(remaining))
}

func printTransition(t monitor.Transition) {
	switch t.To {
	case monitor.WarningShown:
		fmt.Println(colourise(yellow, fmt.Sprintf("Your session expires in %s. Type \"extend\" to stay logged in or \"logout\".", session.FormatRemaining(t.Remaining))))
	case monitor.Expired:
		fmt.Println(colourise(red, "Your session has expired"))
	default:
		fmt.Printf("Session %s, %s remaining\n", stateLabel(t.To), session.FormatRemaining(t.Remaining))
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func configureLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
