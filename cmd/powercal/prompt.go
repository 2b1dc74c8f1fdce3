package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/powercal/powercal/pkg/fcerr"
)

// terminalPrompter asks questions on a line based terminal. Reads give up
// as soon as ctx is done, so an interrupt is not held up by a pending answer.
type terminalPrompter struct {
	ctx       context.Context
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool

	lines chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func newTerminalPrompter(ctx context.Context, in io.Reader, out io.Writer, assumeYes bool) *terminalPrompter {
	return &terminalPrompter{
		ctx:       ctx,
		in:        bufio.NewReader(in),
		out:       out,
		assumeYes: assumeYes,
	}
}

// readLoop feeds lines to p.lines until the input ends.
func (p *terminalPrompter) readLoop() {
	for {
		line, err := p.in.ReadString('\n')
		p.lines <- lineResult{line: line, err: err}
		if err != nil {
			close(p.lines)
			return
		}
	}
}

func (p *terminalPrompter) readLine() (string, error) {
	if err := p.ctx.Err(); err != nil {
		return "", fcerr.Wrap(fcerr.Cancelled, "prompt", err)
	}
	if p.lines == nil {
		p.lines = make(chan lineResult, 1)
		go p.readLoop()
	}

	var r lineResult
	select {
	case <-p.ctx.Done():
		fmt.Fprintln(p.out)
		return "", fcerr.Wrap(fcerr.Cancelled, "prompt", p.ctx.Err())
	case res, ok := <-p.lines:
		if !ok {
			return "", fcerr.New(fcerr.Cancelled, "prompt", "input closed")
		}
		r = res
	}

	if r.err != nil && !(errors.Is(r.err, io.EOF) && r.line != "") {
		if errors.Is(r.err, io.EOF) {
			return "", fcerr.New(fcerr.Cancelled, "prompt", "input closed")
		}
		return "", errors.Wrap(r.err, "failed to read answer")
	}
	return strings.TrimSpace(r.line), nil
}

// AskYesNo returns def on an empty answer.
func (p *terminalPrompter) AskYesNo(prompt string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	if p.assumeYes {
		fmt.Fprintf(p.out, "%s %s y\n", prompt, hint)
		return true, nil
	}

	for {
		fmt.Fprintf(p.out, "%s %s ", prompt, hint)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

// AskFloat keeps asking until a positive number is entered.
func (p *terminalPrompter) AskFloat(prompt string) (float64, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", prompt)
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(strings.Replace(answer, ",", ".", 1), 64)
		if err == nil && v > 0 {
			return v, nil
		}
		fmt.Fprintln(p.out, "Please enter a positive number, e.g. 12.34.")
	}
}
