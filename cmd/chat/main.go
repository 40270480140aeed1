// Command chat is an interactive terminal client for the coda gateway.
// It keeps one session for the whole conversation and streams turns as
// the agent works.
//
// Usage:
//
//	chat [-url http://localhost:8080] [-session my-analysis] [-key sk-...]
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/transport"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "gateway base URL")
	sessionID := flag.String("session", "", "session ID (default: generated)")
	apiKey := flag.String("key", "", "bearer token, if the gateway requires one")
	flag.Parse()

	if *sessionID == "" {
		*sessionID = api.NewSessionID()
	}

	fmt.Printf("session %s at %s\n", *sessionID, *baseURL)
	fmt.Println("type a question, or /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if err := send(*baseURL, *sessionID, *apiKey, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// send posts one message with streaming enabled and prints the turns as
// they arrive.
func send(baseURL, sessionID, apiKey, message string) error {
	body, err := json.Marshal(transport.MessageRequest{Message: message, Stream: true})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/messages", baseURL, sessionID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("%s (%s)", errResp.Error.Message, errResp.Error.Type)
		}
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	return printStream(resp)
}

// printStream consumes the SSE stream until [DONE].
func printStream(resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var event transport.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		printEvent(event)
	}
	return scanner.Err()
}

func printEvent(event transport.StreamEvent) {
	switch event.Type {
	case transport.EventTurnAssistant:
		if event.Turn != nil {
			fmt.Printf("\n[assistant]\n%s\n", event.Turn.Content)
		}
	case transport.EventTurnTool:
		if event.Turn != nil && event.Turn.Result != nil {
			res := event.Turn.Result
			fmt.Printf("\n[execution: %s, %dms]\n", res.ExitStatus, res.DurationMS)
			if res.Stdout != "" {
				fmt.Print(res.Stdout)
			}
			if res.Stderr != "" {
				fmt.Print(res.Stderr)
			}
			for _, a := range res.Artifacts {
				fmt.Printf("artifact: %s (%d bytes)\n", a.Name, len(a.Data))
			}
		}
	case transport.EventAnswerFinal:
		if event.Result != nil {
			fmt.Printf("\n=== final answer (%d rounds) ===\n%s\n\n", event.Result.RoundCount, event.Result.Answer)
		}
	case transport.EventError:
		if event.Error != nil {
			fmt.Fprintf(os.Stderr, "\nstream error: %s (%s)\n", event.Error.Message, event.Error.Type)
		}
	}
}
