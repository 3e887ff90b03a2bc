package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter asks questions on out and reads answers line by line from in.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// askInt falls back to def on an empty or unparsable answer.
func (p *prompter) askInt(question string, def int) (int, error) {
	answer, err := p.ask(question)
	if err != nil {
		return 0, err
	}
	if answer == "" {
		return def, nil
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		fmt.Fprintf(p.out, "Not a number, using %d\n", def)
		return def, nil
	}
	return n, nil
}
