package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technosupport/alibi/internal/app"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/identity"
)

// Exit codes: 0 ok, 2 usage, 3 storage/backend failure, 4 auth failure.
const (
	exitOK      = 0
	exitUsage   = 2
	exitStorage = 3
	exitAuth    = 4
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: alibi <command> [args]

commands:
  serve                        run the incident server
  simulator start|stop|status  control the scenario generator on a running server
  simulator replay <file>      replay a JSONL event file through a running server
  users add|disable|reset      manage accounts directly in the data directory

serve flags:
  -config path    YAML config file (default config/default.yaml)

simulator commands talk to a running server:
  ALIBI_API_URL   base URL (default http://localhost:8080)
  ALIBI_TOKEN     bearer token of an admin account
`)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("alibi ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	case "simulator":
		os.Exit(cmdSimulator(os.Args[2:]))
	case "users":
		os.Exit(cmdUsers(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", "config/default.yaml", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	a, err := app.New(*cfgPath)
	if err != nil {
		log.Printf("startup failed: %v", err)
		return exitStorage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
		return exitStorage
	}
	return exitOK
}

// --- simulator: thin HTTP client against a running server ---

func apiURL() string {
	if v := os.Getenv("ALIBI_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func apiCall(method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequest(method, apiURL()+path, body)
	if err != nil {
		return 0, nil, err
	}
	token := os.Getenv("ALIBI_TOKEN")
	if token == "" {
		return 0, nil, errors.New("ALIBI_TOKEN is not set")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func printResponse(status int, body []byte) int {
	os.Stdout.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Println()
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exitAuth
	case status >= 500:
		return exitStorage
	case status >= 400:
		return exitUsage
	}
	return exitOK
}

func cmdSimulator(args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "start":
		fs := flag.NewFlagSet("simulator start", flag.ContinueOnError)
		scenario := fs.String("scenario", "normal_day", "scenario name")
		rate := fs.Float64("rate", 12, "events per minute")
		seed := fs.Int64("seed", 0, "RNG seed, 0 for time-derived")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		payload, _ := json.Marshal(map[string]any{
			"scenario": *scenario, "rate_per_minute": *rate, "seed": *seed,
		})
		status, body, err := apiCall(http.MethodPost, "/sim/start", bytes.NewReader(payload))
		if err != nil {
			log.Printf("simulator start: %v", err)
			return simErrExit(err)
		}
		return printResponse(status, body)

	case "stop":
		status, body, err := apiCall(http.MethodPost, "/sim/stop", nil)
		if err != nil {
			log.Printf("simulator stop: %v", err)
			return simErrExit(err)
		}
		return printResponse(status, body)

	case "status":
		status, body, err := apiCall(http.MethodGet, "/sim/status", nil)
		if err != nil {
			log.Printf("simulator status: %v", err)
			return simErrExit(err)
		}
		return printResponse(status, body)

	case "replay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: alibi simulator replay <file>")
			return exitUsage
		}
		f, err := os.Open(args[1])
		if err != nil {
			log.Printf("replay: %v", err)
			return exitStorage
		}
		defer f.Close()
		status, body, err := apiCall(http.MethodPost, "/sim/replay", f)
		if err != nil {
			log.Printf("replay: %v", err)
			return simErrExit(err)
		}
		return printResponse(status, body)

	default:
		fmt.Fprintf(os.Stderr, "unknown simulator command %q\n", args[0])
		return exitUsage
	}
}

func simErrExit(err error) int {
	if err.Error() == "ALIBI_TOKEN is not set" {
		return exitAuth
	}
	return exitStorage
}

// --- users: direct data-directory management, server need not run ---

func openUsers() (*identity.Store, int) {
	dataDir := os.Getenv("ALIBI_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	users, err := identity.Open(dataDir, clock.Real())
	if err != nil {
		log.Printf("open users: %v", err)
		return nil, exitStorage
	}
	return users, exitOK
}

func cmdUsers(args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("users add", flag.ContinueOnError)
		username := fs.String("username", "", "account name")
		role := fs.String("role", "operator", "operator, supervisor or admin")
		password := fs.String("password", "", "initial password (min 10 chars)")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "users add requires -username and -password")
			return exitUsage
		}
		users, code := openUsers()
		if code != exitOK {
			return code
		}
		if _, err := users.Create(*username, *password, identity.Role(*role)); err != nil {
			log.Printf("create user: %v", err)
			return exitAuth
		}
		fmt.Printf("user %s (%s) created\n", *username, *role)
		return exitOK

	case "disable":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: alibi users disable <username>")
			return exitUsage
		}
		users, code := openUsers()
		if code != exitOK {
			return code
		}
		if err := users.SetEnabled(args[1], false); err != nil {
			log.Printf("disable user: %v", err)
			return exitAuth
		}
		fmt.Printf("user %s disabled\n", args[1])
		return exitOK

	case "reset":
		fs := flag.NewFlagSet("users reset", flag.ContinueOnError)
		username := fs.String("username", "", "account name")
		password := fs.String("password", "", "new password (min 10 chars)")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "users reset requires -username and -password")
			return exitUsage
		}
		users, code := openUsers()
		if code != exitOK {
			return code
		}
		if err := users.ResetPassword(*username, *password); err != nil {
			log.Printf("reset password: %v", err)
			return exitAuth
		}
		fmt.Printf("password for %s reset\n", *username)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "unknown users command %q\n", args[0])
		return exitUsage
	}
}
