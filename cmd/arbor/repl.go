package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aretw0/arbor/pkg/domain"
)

const historyFile = ".arbor_history"

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Connect to a running server and evaluate interactively",
	Long: `Opens an interactive prompt against a running Arbor server.
A fresh session is cloned on connect. Commands:
  :interrupt   interrupt the running evaluation
  :sessions    list live sessions on the server
  :quit        exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		defer conn.Close()

		client := &replClient{
			enc: json.NewEncoder(conn),
			dec: json.NewDecoder(conn),
		}

		sessionID, err := client.cloneSession()
		if err != nil {
			return err
		}
		fmt.Printf("connected to %s, session %s\n", addr, sessionID)

		return runPrompt(client, sessionID)
	},
}

func runPrompt(client *replClient, sessionID string) error {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	var lastEvalID string
	for {
		line, err := ln.Prompt("arbor> ")
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			// Ctrl+C aborts the current input; let the user start again.
			continue
		}
		code := strings.TrimSpace(line)
		if code == "" {
			continue
		}

		if strings.HasPrefix(code, ":") {
			exit, err := client.command(code, sessionID, lastEvalID)
			if err != nil {
				return err
			}
			if exit {
				return nil
			}
			continue
		}

		lastEvalID = uuid.NewString()
		if err := client.eval(sessionID, lastEvalID, code); err != nil {
			return err
		}
		ln.AppendHistory(code)
	}
}

type replClient struct {
	enc *json.Encoder
	dec *json.Decoder
}

func (c *replClient) send(msg domain.Message) error {
	return c.enc.Encode(msg)
}

// collect reads replies, printing side output, until a done status arrives.
func (c *replClient) collect() (domain.Message, error) {
	for {
		var reply domain.Message
		if err := c.dec.Decode(&reply); err != nil {
			return nil, fmt.Errorf("connection lost: %w", err)
		}
		if out := reply.GetString(domain.FieldOut); out != "" {
			fmt.Print(out)
		}
		if errOut := reply.GetString(domain.FieldErr); errOut != "" {
			fmt.Fprint(os.Stderr, errOut)
		}
		if ex := reply.GetString(domain.FieldEx); ex != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", ex)
		}
		if v, ok := reply[domain.FieldValue]; ok {
			fmt.Printf("=> %v\n", v)
		}
		if reply.HasStatus(domain.StatusDone) {
			return reply, nil
		}
	}
}

func (c *replClient) cloneSession() (string, error) {
	if err := c.send(domain.Message{domain.FieldOp: "clone"}); err != nil {
		return "", err
	}
	reply, err := c.collect()
	if err != nil {
		return "", err
	}
	id := reply.GetString(domain.FieldNewSession)
	if id == "" {
		return "", fmt.Errorf("server did not return a session")
	}
	return id, nil
}

func (c *replClient) eval(sessionID, evalID, code string) error {
	err := c.send(domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldID:      evalID,
		domain.FieldSession: sessionID,
		domain.FieldCode:    code,
	})
	if err != nil {
		return err
	}
	reply, err := c.collect()
	if err != nil {
		return err
	}
	if reply.HasStatus(domain.StatusInterrupted) {
		fmt.Println("(interrupted)")
	}
	return nil
}

func (c *replClient) command(line, sessionID, lastEvalID string) (exit bool, err error) {
	switch strings.Fields(line)[0] {
	case ":quit", ":q", ":exit":
		return true, nil
	case ":interrupt":
		err := c.send(domain.Message{
			domain.FieldOp:          "interrupt",
			domain.FieldSession:     sessionID,
			domain.FieldInterruptID: lastEvalID,
		})
		if err != nil {
			return false, err
		}
		reply, err := c.collect()
		if err != nil {
			return false, err
		}
		if reply.HasStatus(domain.StatusSessionIdle) {
			fmt.Println("nothing running")
		}
		return false, nil
	case ":sessions":
		if err := c.send(domain.Message{domain.FieldOp: "ls-sessions"}); err != nil {
			return false, err
		}
		reply, err := c.collect()
		if err != nil {
			return false, err
		}
		fmt.Printf("%v\n", reply[domain.FieldSessions])
		return false, nil
	default:
		fmt.Printf("unknown command %s\n", line)
		return false, nil
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
	replCmd.Flags().StringP("addr", "a", "localhost:7888", "Server address")
}
