package engineproc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// mockEngineSource is a small Go program that speaks the evaluation
// protocol. It answers rep/isready and echoes a flat 0.5 utility per
// profile player, with an info line ahead of each response.
const mockEngineSource = `package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type request struct {
	Profiles []map[string]string ` + "`json:\"profiles\"`" + `
}

type response struct {
	Utilities []map[string]float64 ` + "`json:\"utilities\"`" + `
}

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "rep":
			fmt.Println("id name mock-evaluator")
			fmt.Println("repok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "setoption "):
			// accepted, no response needed
		case strings.HasPrefix(line, "evaluate "):
			var req request
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "evaluate ")), &req); err != nil {
				fmt.Println("info string bad request")
				continue
			}
			resp := response{Utilities: make([]map[string]float64, len(req.Profiles))}
			for i, profile := range req.Profiles {
				u := make(map[string]float64, len(profile))
				for p := range profile {
					u[p] = 0.5
				}
				resp.Utilities[i] = u
			}
			payload, _ := json.Marshal(resp)
			fmt.Println("info string evaluated", len(req.Profiles), "profiles")
			fmt.Println("utilities " + string(payload))
		case line == "quit":
			os.Exit(0)
		}
	}
}
`

// mockShortEngineSource returns one utility map regardless of batch size.
const mockShortEngineSource = `package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "rep":
			fmt.Println("repok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "evaluate "):
			fmt.Println("utilities {\"utilities\":[{\"P1\":0.5}]}")
		case line == "quit":
			os.Exit(0)
		}
	}
}
`

// mockSilentEngineSource completes the handshake but never answers an
// evaluate request.
const mockSilentEngineSource = `package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "rep":
			fmt.Println("repok")
		case "isready":
			fmt.Println("readyok")
		case "quit":
			os.Exit(0)
		}
	}
}
`

// buildMockEngine compiles a Go source string into a temporary binary and
// returns the path.
func buildMockEngine(t *testing.T, source string) string {
	t.Helper()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "main.go")
	if err := os.WriteFile(srcPath, []byte(source), 0644); err != nil {
		t.Fatalf("write mock engine source: %v", err)
	}

	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	binPath := filepath.Join(dir, "mock_engine"+ext)

	cmd := exec.Command("go", "build", "-o", binPath, srcPath)
	cmd.Env = append(os.Environ(), "GOOS="+runtime.GOOS, "GOARCH="+runtime.GOARCH)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build mock engine: %v\n%s", err, out)
	}
	return binPath
}

func TestClient_Handshake(t *testing.T) {
	bin := buildMockEngine(t, mockEngineSource)

	c, err := New(bin, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
}

func TestClient_Evaluate(t *testing.T) {
	bin := buildMockEngine(t, mockEngineSource)

	c, err := New(bin, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	batch := []game.Profile{
		{"P1": "A", "P2": "X"},
		{"P1": "B", "P2": "X"},
	}
	results, err := c.Evaluate(context.Background(), batch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != len(batch) {
		t.Fatalf("expected %d results, got %d", len(batch), len(results))
	}
	for i, r := range results {
		for _, p := range []game.Player{"P1", "P2"} {
			if r.Utility[p] != 0.5 {
				t.Errorf("result %d player %s: got %v, want 0.5", i, p, r.Utility[p])
			}
		}
	}
}

func TestClient_MisalignedResponseFails(t *testing.T) {
	bin := buildMockEngine(t, mockShortEngineSource)

	c, err := New(bin, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	batch := []game.Profile{{"P1": "A"}, {"P1": "B"}}
	if _, err := c.Evaluate(context.Background(), batch); err == nil {
		t.Error("expected error for short utilities response")
	}
}

func TestClient_Timeout(t *testing.T) {
	bin := buildMockEngine(t, mockSilentEngineSource)

	c, err := New(bin, WithTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Evaluate(context.Background(), []game.Profile{{"P1": "A"}}); err == nil {
		t.Error("expected timeout error from unresponsive engine")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	bin := buildMockEngine(t, mockSilentEngineSource)

	c, err := New(bin, WithTimeout(30*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Evaluate(ctx, []game.Profile{{"P1": "A"}}); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestClient_EvaluateAfterClose(t *testing.T) {
	bin := buildMockEngine(t, mockEngineSource)

	c, err := New(bin, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Evaluate(context.Background(), []game.Profile{{"P1": "A"}}); err == nil {
		t.Error("expected error for evaluate after close")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	bin := buildMockEngine(t, mockEngineSource)

	c, err := New(bin, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestClient_MissingBinary(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "no-such-engine")); err == nil {
		t.Error("expected error for missing engine binary")
	}
}

func TestClient_WithEngineOption(t *testing.T) {
	bin := buildMockEngine(t, mockEngineSource)

	c, err := New(bin,
		WithEngineOption("Workers", "4"),
		WithEngineOption("Deterministic", ""),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
	defer c.Close()

	// Options are fire-and-forget during handshake; a successful isready
	// round-trip after sending them is the observable contract.
	if _, err := c.Evaluate(context.Background(), []game.Profile{{"P1": "A"}}); err != nil {
		t.Errorf("Evaluate after options: %v", err)
	}
}
