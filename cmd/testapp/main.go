// Tracebreak Go Agent Test Application
//
// Simulates a tracer stepping through a small script so breakpoint matching,
// conditions and catchpoints can be exercised end to end. Hits are logged in
// local mode and sent to the backend when an API key is set.
//
// Usage:
//
//	TRACEBREAK_DEBUG=true go run ./cmd/testapp/
//	TRACEBREAK_API_KEY=test-key-123 TRACEBREAK_BACKEND_URL=ws://localhost:19999/api/monitor/agent/v1 go run ./cmd/testapp/
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aivorynet/tracebreak-go/pkg/agent"
	"github.com/aivorynet/tracebreak-go/pkg/condition"
)

const scriptLines = 20

// UserContext is a helper struct to test object capture.
type UserContext struct {
	UserID string
	Email  string
	Active bool
}

func main() {
	fmt.Println("===========================================")
	fmt.Println("Tracebreak Go Agent Test Application")
	fmt.Println("===========================================")

	a := agent.Init()
	if a == nil {
		fmt.Println("Agent failed to start, check the configuration.")
		os.Exit(1)
	}
	defer agent.Shutdown()

	if a.Config().Remote() {
		fmt.Println("Waiting for agent to connect...")
		time.Sleep(3 * time.Second)
	}

	script := filepath.Join(os.TempDir(), "tracebreak-testapp", "script.rb")
	bps := a.Breakpoints()
	bps.Set("happy", "script.rb", 4, "", 5)
	bps.Set("conditional", "script.rb", 12, "iteration >= 2 && user.Active", 5)
	bps.Set("elsewhere", "lib/other.rb", 12, "", 5)
	bps.Catch("fs.PathError")
	bps.Catch("agent.PanicError")

	for i := 0; i < 3; i++ {
		fmt.Printf("--- Iteration %d ---\n", i+1)
		traceScript(script, i)
		fmt.Println()
	}

	fmt.Println("--- Catchpoint Test ---")
	_, err := os.Open(filepath.Join(os.TempDir(), "tracebreak-testapp", "missing.txt"))
	fmt.Printf("Caught %v: %t\n", err, agent.CatchError(err, condition.Binding{"attempt": 1}))
	plain := errors.New("not caught")
	fmt.Printf("Caught %v: %t\n", plain, agent.CatchError(plain, nil))

	fmt.Println()
	fmt.Println("--- Panic Test ---")
	func() {
		// CapturePanic runs first, captures, then re-panics
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("Recovered from panic: %v\n", r)
			}
		}()
		defer agent.CapturePanic()
		var m map[string]int
		m["key"] = 1
	}()

	fmt.Println()
	fmt.Println("--- Breakpoints ---")
	for _, s := range bps.List() {
		fmt.Printf("%-12s %s:%d hits=%d/%d\n", s.RemoteID, s.Source, s.Line, s.HitCount, s.MaxHits)
	}
	fmt.Printf("Path cache misses: %d\n", bps.CacheMisses())

	fmt.Println()
	fmt.Println("===========================================")
	fmt.Println("Test complete.")
	fmt.Println("===========================================")

	if a.Config().Remote() {
		// Keep running briefly to allow final messages to send
		time.Sleep(2 * time.Second)
	}
}

// traceScript calls the agent for every line of the simulated script, as a
// line tracer would.
func traceScript(script string, iteration int) {
	user := UserContext{
		UserID: fmt.Sprintf("user-%d", iteration),
		Email:  "test@example.com",
		Active: iteration%2 == 0,
	}
	binding := condition.Binding{
		"iteration": iteration,
		"items":     []string{"apple", "banana", "cherry"},
		"user": map[string]any{
			"UserID": user.UserID,
			"Active": user.Active,
		},
	}

	for line := 1; line <= scriptLines; line++ {
		if bp := agent.Check(script, line, binding); bp != nil {
			fmt.Printf("Breakpoint %d hit at %s:%d\n", bp.ID(), script, line)
		}
	}
}
