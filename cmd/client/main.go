// Command client submits one question to a webvoyager server and polls the
// session until the query reaches a terminal state.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type sessionState struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	PageURL       string  `json:"page_url"`
	Result        *string `json:"result"`
	Error         string  `json:"error"`
	CurrentStep   int     `json:"current_step"`
	CurrentAction string  `json:"current_action"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server address")
	question := flag.String("question", "", "question to ask the web agent")
	timeoutMinutes := flag.Int("timeout", 30, "session timeout in minutes")
	maxSteps := flag.Int("max-steps", 150, "maximum number of agent steps")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	keep := flag.Bool("keep", false, "keep the session open after the query finishes")
	flag.Parse()

	if *question == "" {
		fmt.Fprintln(os.Stderr, "usage: client -question \"...\" [-addr ...] [-max-steps N]")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	id, err := createSession(client, *addr, *timeoutMinutes)
	if err != nil {
		fatal("create session: %v", err)
	}
	fmt.Printf("session %s created\n", id)
	if !*keep {
		defer closeSession(client, *addr, id)
	}

	if err := submitQuery(client, *addr, id, *question, *maxSteps); err != nil {
		fatal("submit query: %v", err)
	}

	start := time.Now()
	lastStep := 0
	for {
		state, err := getSession(client, *addr, id)
		if err != nil {
			fatal("poll session: %v", err)
		}

		if state.CurrentStep > lastStep {
			fmt.Printf("step %d: %s\n", state.CurrentStep, state.CurrentAction)
			lastStep = state.CurrentStep
		}

		switch state.Status {
		case "completed":
			fmt.Printf("completed in %s\n", time.Since(start).Round(time.Second))
			if state.Result != nil {
				fmt.Println(*state.Result)
			} else {
				fmt.Println("(no answer)")
			}
			return
		case "error":
			fatal("query failed: %s", state.Error)
		}

		time.Sleep(*interval)
	}
}

func createSession(client *http.Client, addr string, timeoutMinutes int) (string, error) {
	body, _ := json.Marshal(map[string]int{"timeout_minutes": timeoutMinutes})
	resp, err := client.Post(addr+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", httpError(resp)
	}

	var state sessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", err
	}
	return state.SessionID, nil
}

func submitQuery(client *http.Client, addr, id, question string, maxSteps int) error {
	body, _ := json.Marshal(map[string]interface{}{
		"question":  question,
		"max_steps": maxSteps,
	})
	resp, err := client.Post(addr+"/api/sessions/"+id+"/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return nil
}

func getSession(client *http.Client, addr, id string) (*sessionState, error) {
	resp, err := client.Get(addr + "/api/sessions/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A vanished session is terminal for the poller, not a transient fault.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("session lost: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}

	var state sessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

func closeSession(client *http.Client, addr, id string) {
	req, err := http.NewRequest(http.MethodDelete, addr+"/api/sessions/"+id, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "close session: %v\n", err)
		return
	}
	resp.Body.Close()
}

func httpError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
